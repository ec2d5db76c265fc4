package cli

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/pterm/pterm"

	"go.viam.com/procam/session"
)

type progressSpinner interface {
	Stop() error
	Success(...any)
	Fail(...any)
	UpdateText(string)
}

type progressSpinnerFactory func(string) (progressSpinner, error)

var defaultSpinnerFactory progressSpinnerFactory = func(text string) (progressSpinner, error) {
	spinner, err := pterm.DefaultSpinner.
		WithRemoveWhenDone(false).
		WithText(text).
		Start()
	if err != nil {
		return nil, err
	}
	return spinner, nil
}

// StepStatus represents the state of a progress step.
type StepStatus int

const (
	// StepPending indicates a step has not yet started.
	StepPending StepStatus = iota
	// StepRunning indicates a step is currently in progress.
	StepRunning
	// StepCompleted indicates a step finished successfully.
	StepCompleted
	// StepFailed indicates a step encountered an error.
	StepFailed
)

// Step is one line of progress output.
type Step struct {
	ID        string
	Message   string
	Status    StepStatus
	startTime time.Time
}

// ProgressManager shows a sequence of steps, one spinner at a time.
type ProgressManager struct {
	steps          map[string]*Step
	current        progressSpinner
	spinnerFactory progressSpinnerFactory
	mu             sync.Mutex
	disabled       bool
}

// ProgressManagerOption allows customizing ProgressManager behavior at creation time.
type ProgressManagerOption func(*ProgressManager)

// WithProgressOutput enables or disables terminal output for a ProgressManager.
func WithProgressOutput(enabled bool) ProgressManagerOption {
	return func(pm *ProgressManager) {
		pm.disabled = !enabled
	}
}

func withProgressSpinnerFactory(factory progressSpinnerFactory) ProgressManagerOption {
	return func(pm *ProgressManager) {
		pm.spinnerFactory = factory
	}
}

// NewProgressManager registers all steps upfront.
func NewProgressManager(steps []*Step, opts ...ProgressManagerOption) *ProgressManager {
	pterm.Success.Prefix = pterm.Prefix{Text: "✓", Style: pterm.NewStyle(pterm.FgGreen)}
	pterm.Error.Prefix = pterm.Prefix{Text: "✗", Style: pterm.NewStyle(pterm.FgRed)}
	pterm.DefaultSpinner.Style = pterm.NewStyle(pterm.FgCyan)

	pm := &ProgressManager{
		steps:          make(map[string]*Step, len(steps)),
		spinnerFactory: defaultSpinnerFactory,
	}
	for _, step := range steps {
		pm.steps[step.ID] = step
	}
	for _, opt := range opts {
		opt(pm)
	}
	return pm
}

func (pm *ProgressManager) step(id string) (*Step, error) {
	step, ok := pm.steps[id]
	if !ok {
		return nil, errors.Errorf("step %q not found", id)
	}
	return step, nil
}

// Status returns the status of a step.
func (pm *ProgressManager) Status(id string) (StepStatus, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	step, err := pm.step(id)
	if err != nil {
		return StepPending, err
	}
	return step.Status, nil
}

// Start begins animating the spinner of a step, stopping any previous one.
func (pm *ProgressManager) Start(id string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	step, err := pm.step(id)
	if err != nil {
		return err
	}
	step.Status = StepRunning
	step.startTime = time.Now()
	if pm.disabled {
		return nil
	}
	if pm.current != nil {
		_ = pm.current.Stop() //nolint:errcheck
	}
	spinner, err := pm.spinnerFactory(step.Message)
	if err != nil {
		return errors.Wrap(err, "failed to start spinner")
	}
	pm.current = spinner
	return nil
}

// Complete marks a step as completed, with message replacing the step's own when not empty.
func (pm *ProgressManager) Complete(id, message string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	step, err := pm.step(id)
	if err != nil {
		return err
	}
	step.Status = StepCompleted
	if message == "" {
		message = step.Message
	}
	if !step.startTime.IsZero() {
		message += fmt.Sprintf(" (%s)", time.Since(step.startTime).Round(time.Second))
	}
	if pm.disabled {
		return nil
	}
	if pm.current != nil {
		pm.current.Success(message)
		pm.current = nil
	} else {
		pterm.Success.Println(message)
	}
	return nil
}

// Fail marks a step as failed.
func (pm *ProgressManager) Fail(id string, cause error) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	step, err := pm.step(id)
	if err != nil {
		return err
	}
	step.Status = StepFailed
	message := step.Message
	if cause != nil {
		message = fmt.Sprintf("%s: %v", step.Message, cause)
	}
	if pm.disabled {
		return nil
	}
	if pm.current != nil {
		pm.current.Fail(message)
		pm.current = nil
	} else {
		pterm.Error.Println(message)
	}
	return nil
}

// UpdateText updates the text of the active spinner.
func (pm *ProgressManager) UpdateText(text string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.disabled || pm.current == nil {
		return
	}
	pm.current.UpdateText(text)
}

// Stop stops any active spinner.
func (pm *ProgressManager) Stop() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.disabled || pm.current == nil {
		return
	}
	_ = pm.current.Stop() //nolint:errcheck
	pm.current = nil
}

// Calibration progress steps.
const (
	stepHomography = "homography"
	stepPoses      = "poses"
	stepSolve      = "solve"
)

func calibrationSteps() []*Step {
	return []*Step{
		{ID: stepHomography, Message: "Capturing the camera to projector homography"},
		{ID: stepPoses, Message: "Collecting board poses"},
		{ID: stepSolve, Message: "Solving the calibration"},
	}
}

// sessionProgress follows a driver run on a progress manager.
type sessionProgress struct {
	pm      *ProgressManager
	nBoards int
	active  string
}

func newSessionProgress(pm *ProgressManager, nBoards int) *sessionProgress {
	return &sessionProgress{pm: pm, nBoards: nBoards}
}

func (p *sessionProgress) switchTo(id string) {
	if p.active == id {
		return
	}
	if p.active != "" {
		_ = p.pm.Complete(p.active, "") //nolint:errcheck
	}
	p.active = id
	_ = p.pm.Start(id) //nolint:errcheck
}

// update is a session.DriverOptions.Progress callback.
func (p *sessionProgress) update(state session.State, poses int) {
	switch state {
	case session.HomographyCapture:
		p.switchTo(stepHomography)
	case session.PoseCollection:
		p.switchTo(stepPoses)
		p.pm.UpdateText(fmt.Sprintf("Collecting board poses (%d/%d)", poses, p.nBoards))
	case session.Solving:
		p.switchTo(stepSolve)
	case session.Done:
		if p.active != "" {
			_ = p.pm.Complete(p.active, fmt.Sprintf("Calibrated from %d poses", poses)) //nolint:errcheck
		}
		p.active = ""
	case session.Failed, session.Idle:
		if p.active != "" {
			_ = p.pm.Fail(p.active, errors.Errorf("stopped in state %s", state)) //nolint:errcheck
		}
		p.active = ""
	}
}
