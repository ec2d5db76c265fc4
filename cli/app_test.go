package cli

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"go.viam.com/procam/config"
	"go.viam.com/procam/rimage"
)

func writeTestConfig(t *testing.T) (string, config.CalibrationParameters) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.OutputDir = filepath.Join(dir, "output")
	cfg.DelayMs = 0
	cfg.DelayFrames = 0
	path := filepath.Join(dir, configName)
	test.That(t, config.Write(path, &cfg), test.ShouldBeNil)
	return path, cfg
}

func TestAppShowEmptyCalibration(t *testing.T) {
	path, cfg := writeTestConfig(t)
	err := NewApp().Run([]string{"procam-calibrate", "--config", path, "show"})
	test.That(t, err, test.ShouldBeNil)
	_, err = os.Stat(filepath.Join(cfg.OutputDir, cfg.Object, "calib"))
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)

	err = NewApp().Run([]string{"procam-calibrate", "--config", path, "show", "--plot", filepath.Join(t.TempDir(), "r.png")})
	test.That(t, err, test.ShouldBeError, "a residual plot needs both devices calibrated")
}

func TestAppCapture(t *testing.T) {
	path, cfg := writeTestConfig(t)
	out := filepath.Join(t.TempDir(), "frame.png")
	logFile := filepath.Join(t.TempDir(), "logs", "procam.log")
	err := NewApp().Run([]string{
		"procam-calibrate", "--config", path, "--log-file", logFile,
		"capture", "--out", out, "--channel", "red",
	})
	test.That(t, err, test.ShouldBeNil)

	img, err := rimage.ReadImageFromFile(out)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Size(), test.ShouldResemble, cfg.CameraSize())

	err = NewApp().Run([]string{"procam-calibrate", "--config", path, "capture", "--out", out, "--channel", "violet"})
	test.That(t, err, test.ShouldNotBeNil)
}
