package utils

import (
	"image"
	"math"
	"runtime"
	"sync"

	"go.viam.com/utils"
	"golang.org/x/sync/errgroup"
)

// ParallelFactor controls the max level of parallelization. Tests may lower it.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

// ParallelForEachPixel loops through the image and calls f functions for each [x, y] position.
// The image is divided into N * N blocks, where N is ParallelFactor. For each block a
// parallel Goroutine is started.
func ParallelForEachPixel(size image.Point, f func(x, y int)) {
	procs := ParallelFactor
	var waitGroup sync.WaitGroup
	waitGroup.Add(procs * procs)
	blockW := int(math.Floor(float64(size.X) / float64(procs)))
	blockH := int(math.Floor(float64(size.Y) / float64(procs)))
	for i := 0; i < procs; i++ {
		startX := i * blockW
		endX := size.X
		if i < procs-1 {
			endX = (i + 1) * blockW
		}
		for j := 0; j < procs; j++ {
			startY := j * blockH
			endY := size.Y
			if j < procs-1 {
				endY = (j + 1) * blockH
			}
			sX, eX, sY, eY := startX, endX, startY, endY
			utils.PanicCapturingGo(func() {
				defer waitGroup.Done()
				for x := sX; x < eX; x++ {
					for y := sY; y < eY; y++ {
						f(x, y)
					}
				}
			})
		}
	}
	waitGroup.Wait()
}

// ParallelForEachRow calls f for every row in [0, rows) using at most ParallelFactor goroutines.
// The first error returned by f is returned.
func ParallelForEachRow(rows int, f func(y int) error) error {
	var group errgroup.Group
	group.SetLimit(ParallelFactor)
	for y := 0; y < rows; y++ {
		row := y
		group.Go(func() error {
			return f(row)
		})
	}
	return group.Wait()
}
