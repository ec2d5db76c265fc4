package spatialmath

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// FitPlane fits a hyperplane to the rows of points (N points in M dimensions) and returns
// [n_1..n_M, d] such that n·x = d. The normal is the right singular vector of the scatter matrix
// with the smallest singular value. Degenerate input yields an arbitrary normal; no error is raised
// for it.
func FitPlane(points mat.Matrix) ([]float64, error) {
	nPoints, dim := points.Dims()
	if nPoints == 0 || dim == 0 {
		return nil, errors.New("cannot fit a plane to an empty point set")
	}
	centroid := make([]float64, dim)
	for i := 0; i < nPoints; i++ {
		for j := 0; j < dim; j++ {
			centroid[j] += points.At(i, j)
		}
	}
	for j := range centroid {
		centroid[j] /= float64(nPoints)
	}
	centered := mat.NewDense(nPoints, dim, nil)
	centered.Apply(func(i, j int, v float64) float64 {
		return v - centroid[j]
	}, points)

	var scatter mat.Dense
	scatter.Mul(centered.T(), centered)

	var svd mat.SVD
	if ok := svd.Factorize(&scatter, mat.SVDFull); !ok {
		return nil, errors.New("failed to factorize scatter matrix")
	}
	var v mat.Dense
	svd.VTo(&v)

	plane := make([]float64, dim+1)
	for j := 0; j < dim; j++ {
		// singular values are sorted in decreasing order
		plane[j] = v.At(j, dim-1)
		plane[dim] += plane[j] * centroid[j]
	}
	return plane, nil
}

// IntersectLineWithPlane3D intersects the line q + t*v with the plane w[0:3]·x = w[3] and returns the
// intersection point and the depth t. A line parallel to the plane yields non-finite values.
func IntersectLineWithPlane3D(q, v r3.Vector, w [4]float64) (r3.Vector, float64) {
	normal := r3.Vector{X: w[0], Y: w[1], Z: w[2]}
	depth := (w[3] - normal.Dot(q)) / normal.Dot(v)
	return q.Add(v.Mul(depth)), depth
}

// IntersectLineWithLine3D returns the midpoint of the closest points between the lines q1 + s*v1 and
// q2 + t*v2. Parallel lines yield non-finite values.
func IntersectLineWithLine3D(q1, v1, q2, v2 r3.Vector) r3.Vector {
	q12 := q1.Sub(q2)
	v1Dotv1 := v1.Dot(v1)
	v2Dotv2 := v2.Dot(v2)
	v1Dotv2 := v1.Dot(v2)
	q12Dotv1 := q12.Dot(v1)
	q12Dotv2 := q12.Dot(v2)

	denom := v1Dotv1*v2Dotv2 - v1Dotv2*v1Dotv2
	s := (v1Dotv2/denom)*q12Dotv2 - (v2Dotv2/denom)*q12Dotv1
	t := -(v1Dotv2/denom)*q12Dotv1 + (v1Dotv1/denom)*q12Dotv2

	p1 := q1.Add(v1.Mul(s))
	p2 := q2.Add(v2.Mul(t))
	return p1.Add(p2).Mul(0.5)
}
