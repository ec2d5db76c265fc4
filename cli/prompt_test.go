package cli

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"

	"go.viam.com/procam/calibration"
	"go.viam.com/procam/session"
)

func TestParseBoardCount(t *testing.T) {
	n, err := parseBoardCount("12")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 12)

	_, err = parseBoardCount("twelve")
	test.That(t, err, test.ShouldBeError, "enter a whole number")

	_, err = parseBoardCount("1")
	test.That(t, err, test.ShouldNotBeNil)

	n, err = parseBoardCount("2")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, calibration.MinPoses)
}

func TestTerminalPrompter(t *testing.T) {
	dir := t.TempDir()
	preview := image.NewRGBA(image.Rect(0, 0, 400, 300))
	preview.Set(10, 10, color.White)
	p := &terminalPrompter{
		keys:        newKeyReader(strings.NewReader("a\nc\x1b")),
		previewPath: filepath.Join(dir, previewName),
		window:      image.Point{200, 150},
	}

	decision, err := p.ConfirmPose(context.Background(), 0, preview)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, decision, test.ShouldEqual, session.DecisionAccept)
	_, err = os.Stat(p.previewPath)
	test.That(t, err, test.ShouldBeNil)

	decision, err = p.ConfirmPose(context.Background(), 1, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, decision, test.ShouldEqual, session.DecisionReject)

	decision, err = p.ConfirmPose(context.Background(), 1, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, decision, test.ShouldEqual, session.DecisionFinish)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.ConfirmPose(ctx, 2, preview)
	test.That(t, err, test.ShouldBeError, context.Canceled)
}
