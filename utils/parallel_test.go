package utils

import (
	"errors"
	"image"
	"sync/atomic"
	"testing"

	"go.viam.com/test"
)

func TestParallelForEachPixel(t *testing.T) {
	size := image.Point{37, 23}
	var visited [23][37]int32
	ParallelForEachPixel(size, func(x, y int) {
		atomic.AddInt32(&visited[y][x], 1)
	})
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			test.That(t, visited[y][x], test.ShouldEqual, 1)
		}
	}
}

func TestParallelForEachRow(t *testing.T) {
	var count int64
	err := ParallelForEachRow(50, func(y int) error {
		atomic.AddInt64(&count, int64(y))
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, count, test.ShouldEqual, 49*50/2)

	bad := errors.New("bad row")
	err = ParallelForEachRow(10, func(y int) error {
		if y == 7 {
			return bad
		}
		return nil
	})
	test.That(t, err, test.ShouldEqual, bad)
}
