package list

import (
	"fmt"

	"github.com/alecthomas/kingpin/v2"
	"github.com/apex/log"
	"github.com/aqmlab/aqmbench/internal/cli/root"
	"github.com/aqmlab/aqmbench/internal/model"
	"github.com/fatih/color"
)

// meanThroughput averages the aggregate throughput series.
func meanThroughput(record *model.MetricRecord) float64 {
	if len(record.Throughput) == 0 {
		return 0
	}
	sum := 0.0
	for _, point := range record.Throughput {
		sum += point.BitsPerSecond
	}
	return sum / float64(len(record.Throughput))
}

func init() {
	cmd := root.Command("list", "List stored run records")

	cmd.Action(func(_ *kingpin.ParseContext) error {
		_, store, _, err := root.Init()
		if err != nil {
			log.WithError(err).Error("failed to initialize")
			return err
		}
		defer store.Close()

		records, err := store.List()
		if err != nil {
			log.WithError(err).Error("failed to list records")
			return err
		}
		valid := 0
		for _, record := range records {
			if record.Valid {
				valid++
				fmt.Printf("%s %s  %6.2f mbit/s  p50 %6.2f ms  p95 %6.2f ms  loss %5.2f%%\n",
					color.GreenString("ok "), record.RunID,
					meanThroughput(record)/1e6,
					record.LatencyP50Millis, record.LatencyP95Millis,
					record.LossRate*100)
				continue
			}
			fmt.Printf("%s %s  %s\n",
				color.RedString("bad"), record.RunID, record.InvalidReason)
		}
		fmt.Printf("%d records, %d valid\n", len(records), valid)
		return nil
	})
}
