// Package root contains the root command.
package root

import (
	"os"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/aqmlab/aqmbench/internal/config"
	"github.com/aqmlab/aqmbench/internal/results"
	"github.com/aqmlab/aqmbench/internal/version"
)

// Cmd is the root command
var Cmd = kingpin.New("aqmbench", "Compare AQM disciplines on an emulated bottleneck link.")

// Command is syntax sugar for defining sub-commands
var Command = Cmd.Command

// Init should be called by all subcommands that need the experiment
// plan and the result store. The caller owns closing the store.
var Init func() (*config.Document, *results.Store, string, error)

func init() {
	configPath := Cmd.Flag("config", "Set a custom experiment plan file path").Short('c').String()
	workDir := Cmd.Flag("workdir", "Directory holding results, captures, and the run lock").
		Short('d').Default("/var/lib/aqmbench").String()
	verbose := Cmd.Flag("verbose", "Enable verbose log output.").Short('v').Bool()

	Cmd.PreAction(func(ctx *kingpin.ParseContext) error {
		log.SetHandler(cli.Default)
		if *verbose {
			log.SetLevel(log.DebugLevel)
			log.Debugf("aqmbench version %s", version.Version)
		}

		Init = func() (*config.Document, *results.Store, string, error) {
			var (
				doc *config.Document
				err error
			)
			if *configPath != "" {
				log.Debugf("Reading experiment plan from %s", *configPath)
				doc, err = config.ReadFile(*configPath)
			} else {
				log.Debug("Using the built-in experiment plan")
				doc = config.Default()
			}
			if err != nil {
				return nil, nil, "", err
			}
			if err := os.MkdirAll(*workDir, 0o755); err != nil {
				return nil, nil, "", err
			}
			store, err := results.Open(filepath.Join(*workDir, "results.sqlite3"), log.Log)
			if err != nil {
				return nil, nil, "", err
			}
			return doc, store, *workDir, nil
		}

		return nil
	})
}
