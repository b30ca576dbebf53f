package run

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/apex/log"
	"github.com/aqmlab/aqmbench/internal/cli/root"
	"github.com/aqmlab/aqmbench/internal/runner"
)

func init() {
	cmd := root.Command("run", "Run the experiment matrix")

	retries := cmd.Flag("max-retries", "Retries per run after a transient failure").
		Default("2").Int()

	cmd.Action(func(_ *kingpin.ParseContext) error {
		doc, store, workDir, err := root.Init()
		if err != nil {
			log.WithError(err).Error("failed to initialize")
			return err
		}
		defer store.Close()

		matrix, err := doc.Matrix()
		if err != nil {
			log.WithError(err).Error("invalid experiment plan")
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(),
			os.Interrupt, syscall.SIGTERM)
		defer cancel()

		r := runner.New(log.Log, workDir, store)
		r.MaxRetries = *retries
		failed, err := r.RunMatrix(ctx, matrix)
		if err != nil {
			log.WithError(err).Error("matrix aborted")
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d runs failed permanently", failed)
		}
		log.Info("matrix complete")
		return nil
	})
}
