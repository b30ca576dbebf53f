package clean

import (
	"context"

	"github.com/alecthomas/kingpin/v2"
	"github.com/apex/log"
	"github.com/aqmlab/aqmbench/internal/cli/root"
	"github.com/aqmlab/aqmbench/internal/topology"
)

func init() {
	cmd := root.Command("clean", "Remove stale virtual network resources")

	results := cmd.Flag("results", "Also delete every stored record").Bool()

	cmd.Action(func(_ *kingpin.ParseContext) error {
		_, store, _, err := root.Init()
		if err != nil {
			log.WithError(err).Error("failed to initialize")
			return err
		}
		defer store.Close()

		builder := topology.NewBuilder(log.Log)
		if err := builder.Clean(context.Background()); err != nil {
			log.WithError(err).Error("failed to clean stale resources")
			return err
		}
		if *results {
			if err := store.Clean(); err != nil {
				log.WithError(err).Error("failed to clean the result store")
				return err
			}
			log.Info("result store cleaned")
		}
		log.Info("clean")
		return nil
	})
}
