package calibration

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

type lmSettings struct {
	MaxIterations  int
	InitialDamping float64
	// relative cost decrease under which the solver stops
	FunctionTolerance float64
	// infinity norm of the gradient under which the solver stops
	GradientTolerance float64
}

var defaultLMSettings = lmSettings{
	MaxIterations:     100,
	InitialDamping:    1e-3,
	FunctionTolerance: 1e-12,
	GradientTolerance: 1e-12,
}

type lmResult struct {
	X          []float64
	Cost       float64
	Iterations int
}

// residualFunc writes the m residuals at x into dst. It must be safe for concurrent use and must not
// modify x.
type residualFunc func(dst, x []float64)

// levenbergMarquardt minimizes the sum of squared residuals starting from x0. The Jacobian is
// approximated with central differences and the damping is scaled by the diagonal of JᵀJ.
func levenbergMarquardt(f residualFunc, m int, x0 []float64, settings lmSettings) (lmResult, error) {
	n := len(x0)
	if n == 0 {
		return lmResult{}, errors.New("no parameters to optimize")
	}
	if m < n {
		return lmResult{}, errors.Errorf("underdetermined problem: %d residuals for %d parameters", m, n)
	}

	x := append([]float64(nil), x0...)
	r := make([]float64, m)
	f(r, x)
	cost := floats.Dot(r, r)
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return lmResult{}, errors.New("initial residuals are not finite")
	}

	jac := mat.NewDense(m, n, nil)
	jacSettings := &fd.JacobianSettings{Formula: fd.Central, Concurrent: true}
	var jtj, damped mat.Dense
	var jtr, step mat.VecDense
	candidate := make([]float64, n)
	rc := make([]float64, m)
	lambda := settings.InitialDamping

	iter := 0
	for ; iter < settings.MaxIterations; iter++ {
		fd.Jacobian(jac, f, x, jacSettings)
		jtj.Mul(jac.T(), jac)
		jtr.MulVec(jac.T(), mat.NewVecDense(m, r))
		if mat.Norm(&jtr, math.Inf(1)) < settings.GradientTolerance {
			break
		}

		improved := false
		for attempt := 0; attempt < 12; attempt++ {
			damped.CloneFrom(&jtj)
			for i := 0; i < n; i++ {
				d := math.Max(jtj.At(i, i), 1e-12)
				damped.Set(i, i, jtj.At(i, i)+lambda*d)
			}
			if err := step.SolveVec(&damped, &jtr); err != nil {
				lambda *= 10
				continue
			}
			for i := range candidate {
				candidate[i] = x[i] - step.AtVec(i)
			}
			f(rc, candidate)
			newCost := floats.Dot(rc, rc)
			if newCost < cost && !math.IsNaN(newCost) {
				decrease := (cost - newCost) / math.Max(cost, math.SmallestNonzeroFloat64)
				copy(x, candidate)
				copy(r, rc)
				cost = newCost
				lambda = math.Max(lambda/10, 1e-15)
				improved = decrease > settings.FunctionTolerance
				break
			}
			lambda *= 10
		}
		if !improved {
			break
		}
	}
	return lmResult{X: x, Cost: cost, Iterations: iter}, nil
}
