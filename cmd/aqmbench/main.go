package main

import (
	"github.com/apex/log"
	"github.com/aqmlab/aqmbench/internal/cli/app"
	_ "github.com/aqmlab/aqmbench/internal/cli/clean"
	_ "github.com/aqmlab/aqmbench/internal/cli/list"
	_ "github.com/aqmlab/aqmbench/internal/cli/run"
	_ "github.com/aqmlab/aqmbench/internal/cli/version"
)

func main() {
	if err := app.Run(); err != nil {
		log.WithError(err).Fatal("exiting")
	}
}
