// Package main is the procam-calibrate entry point.
package main

import (
	"os"

	"github.com/pterm/pterm"

	"go.viam.com/procam/cli"
)

func main() {
	if err := cli.NewApp().Run(os.Args); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}
