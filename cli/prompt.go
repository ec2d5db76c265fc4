package cli

import (
	"context"
	"image"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/pkg/errors"
	"github.com/pterm/pterm"

	"go.viam.com/procam/calibration"
	"go.viam.com/procam/rimage"
	"go.viam.com/procam/session"
)

func parseBoardCount(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("enter a whole number")
	}
	if n < calibration.MinPoses {
		return 0, errors.Errorf("at least %d boards are needed", calibration.MinPoses)
	}
	return n, nil
}

// promptBoardCount asks how many poses to collect, defaulting to current.
func promptBoardCount(current int) (int, error) {
	value := strconv.Itoa(current)
	err := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Number of board poses").
			Value(&value).
			Validate(func(s string) error {
				_, err := parseBoardCount(s)
				return err
			}),
	)).Run()
	if err != nil {
		return 0, err
	}
	return parseBoardCount(value)
}

// terminalPrompter writes each candidate preview to a file and asks for a key press.
type terminalPrompter struct {
	keys        *keyReader
	previewPath string
	window      image.Point
}

func (p *terminalPrompter) ConfirmPose(ctx context.Context, pose int, preview image.Image) (session.Decision, error) {
	if err := ctx.Err(); err != nil {
		return session.DecisionReject, err
	}
	if preview != nil && p.previewPath != "" {
		if p.window.X > 0 && p.window.Y > 0 {
			preview = rimage.Preview(preview, p.window.X, p.window.Y)
		}
		if err := rimage.WriteImageToFile(p.previewPath, preview); err != nil {
			return session.DecisionReject, err
		}
		pterm.Info.Printfln("pose %d detected, see %s", pose+1, filepath.Clean(p.previewPath))
	}
	pterm.Info.Println("c: cancel the pose, ESC: drop it and calibrate with the poses so far, any other key: accept")
	key, err := p.keys.ReadKey()
	if err != nil {
		return session.DecisionReject, err
	}
	switch key {
	case 'c', 'C':
		return session.DecisionReject, nil
	case keyEscape:
		return session.DecisionFinish, nil
	default:
		return session.DecisionAccept, nil
	}
}
