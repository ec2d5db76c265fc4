package fake

import (
	"context"
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"

	"go.viam.com/procam/calibration"
	"go.viam.com/procam/components/camera"
	"go.viam.com/procam/logging"
	"go.viam.com/procam/rimage"
	"go.viam.com/procam/rimage/detection/chessboard"
)

var testBoard = calibration.Board{Corners: image.Point{8, 6}, CellWidthMM: 30, CellHeightMM: 30}

func newTestScene(t *testing.T) *Scene {
	t.Helper()
	cfg, err := RigConfig(image.Point{480, 360}, image.Point{640, 480}, testBoard)
	test.That(t, err, test.ShouldBeNil)
	scene, err := NewScene(cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return scene
}

func TestSceneWallShowsProjectedBoard(t *testing.T) {
	ctx := context.Background()
	scene := newTestScene(t)
	sink := scene.Projector()
	test.That(t, sink.Size(), test.ShouldResemble, image.Point{640, 480})

	dark, err := scene.QueryFrame(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dark.Bounds().Size(), test.ShouldResemble, image.Point{480, 360})
	_, hi, err := rimage.MinMaxGray(rimage.MakeGray(dark))
	test.That(t, err, test.ShouldBeNil)
	// only ambient light without a pattern
	test.That(t, hi, test.ShouldBeLessThan, 40)

	pattern := rimage.ChessboardPattern{Canvas: sink.Size(), Corners: image.Point{6, 4}, Square: image.Point{50, 50}}
	board, err := rimage.GenerateChessboard(pattern)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sink.ShowPattern(ctx, board), test.ShouldBeNil)
	test.That(t, scene.PoseIndex(), test.ShouldEqual, -1)

	frame, err := camera.QueryFrameSafe(ctx, scene, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, scene.FramesServed(), test.ShouldEqual, 3)
	blue := rimage.ExtractChannel(frame, rimage.ChannelBlue)
	res, err := chessboard.FindChessboardCorners(blue, pattern.Corners, chessboard.DefaultDetectionConf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Found, test.ShouldBeTrue)
	// the projector is not mirrored, so the first corner is the top left one
	test.That(t, res.Corners[0].X, test.ShouldBeLessThan, res.Corners[5].X)
	test.That(t, res.Corners[0].Y, test.ShouldBeLessThan, res.Corners[18].Y)

	test.That(t, sink.ShowPattern(ctx, rimage.SolidPattern(image.Point{8, 8}, color.White)), test.ShouldNotBeNil)
}

func TestScenePrintedBoardInRedChannel(t *testing.T) {
	ctx := context.Background()
	scene := newTestScene(t)
	sink := scene.Projector()

	white := rimage.SolidPattern(sink.Size(), color.White)
	test.That(t, sink.ShowPattern(ctx, white), test.ShouldBeNil)
	test.That(t, scene.PoseIndex(), test.ShouldEqual, 0)

	frame, err := scene.QueryFrame(ctx)
	test.That(t, err, test.ShouldBeNil)

	red := rimage.ExtractChannel(frame, rimage.ChannelRed)
	res, err := chessboard.FindChessboardCorners(red, testBoard.Corners, chessboard.DefaultDetectionConf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Found, test.ShouldBeTrue)

	cfg := scene.Config()
	obj, err := testBoard.ObjectPoints(calibration.TraversalRowMajor)
	test.That(t, err, test.ShouldBeNil)
	expected := cfg.Camera.ProjectPoints(obj, cfg.Poses[0])
	for i, p := range res.Corners {
		test.That(t, p.Sub(expected[i]).Norm(), test.ShouldBeLessThan, 0.75)
	}

	// cyan ink disappears in blue light
	blue := rimage.ExtractChannel(frame, rimage.ChannelBlue)
	res, err = chessboard.FindChessboardCorners(blue, testBoard.Corners, chessboard.DefaultDetectionConf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Found, test.ShouldBeFalse)

	for i := 1; i <= len(cfg.Poses); i++ {
		test.That(t, sink.ShowPattern(ctx, white), test.ShouldBeNil)
	}
	test.That(t, scene.PoseIndex(), test.ShouldEqual, 0)

	test.That(t, scene.Close(ctx), test.ShouldBeNil)
	_, err = scene.QueryFrame(ctx)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSceneConfigValidation(t *testing.T) {
	cfg, err := RigConfig(image.Point{160, 120}, image.Point{320, 240}, testBoard)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Validate(), test.ShouldBeNil)

	bad := cfg
	bad.Poses = nil
	test.That(t, bad.Validate(), test.ShouldNotBeNil)
	bad = cfg
	bad.Ambient = 1
	test.That(t, bad.Validate(), test.ShouldNotBeNil)
	bad = cfg
	bad.Projector = nil
	test.That(t, bad.Validate(), test.ShouldNotBeNil)
	bad = cfg
	bad.Supersample = 0
	_, err = NewScene(bad, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}
