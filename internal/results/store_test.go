package results

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/aqmlab/aqmbench/internal/errorsx"
	"github.com/aqmlab/aqmbench/internal/model"
	"github.com/google/go-cmp/cmp"
)

func openTestStore(t *testing.T) *Store {
	store, err := Open(filepath.Join(t.TempDir(), "results.sqlite3"), model.DiscardLogger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func testRecord(runID string) *model.MetricRecord {
	return &model.MetricRecord{
		RunID:            model.RunID(runID),
		AttemptID:        "attempt-1",
		Mechanism:        model.MechanismCoDel,
		TopologyProfile:  "baseline",
		Repetition:       0,
		LatencyP50Millis: 12.5,
		LatencyP95Millis: 31,
		LatencyP99Millis: 44,
		LossRate:         0.01,
		Throughput: []model.ThroughputPoint{
			{Start: 0, BitsPerSecond: 9.6e6},
		},
		Valid: true,
	}
}

func TestStore(t *testing.T) {
	t.Run("append then read back", func(t *testing.T) {
		store := openTestStore(t)
		record := testRecord("codel-baseline-r000")
		if err := store.Append(record); err != nil {
			t.Fatal(err)
		}
		exists, err := store.Has(record.RunID)
		if err != nil {
			t.Fatal(err)
		}
		if !exists {
			t.Fatal("expected the record to exist")
		}
		records, err := store.List()
		if err != nil {
			t.Fatal(err)
		}
		if len(records) != 1 {
			t.Fatalf("got %d records", len(records))
		}
		if diff := cmp.Diff(record, records[0]); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("a run appears at most once", func(t *testing.T) {
		store := openTestStore(t)
		record := testRecord("codel-baseline-r000")
		if err := store.Append(record); err != nil {
			t.Fatal(err)
		}
		second := testRecord("codel-baseline-r000")
		second.AttemptID = "attempt-2"
		err := store.Append(second)
		if !errors.Is(err, errorsx.ErrDuplicateRun) {
			t.Fatal("not the error we expected", err)
		}
		records, err := store.List()
		if err != nil {
			t.Fatal(err)
		}
		if len(records) != 1 || records[0].AttemptID != "attempt-1" {
			t.Fatal("the first record should be untouched")
		}
	})

	t.Run("list orders by run identity", func(t *testing.T) {
		store := openTestStore(t)
		for _, runID := range []string{"pie-baseline-r001", "ared-baseline-r000", "codel-baseline-r002"} {
			if err := store.Append(testRecord(runID)); err != nil {
				t.Fatal(err)
			}
		}
		records, err := store.List()
		if err != nil {
			t.Fatal(err)
		}
		var got []string
		for _, record := range records {
			got = append(got, string(record.RunID))
		}
		expect := []string{"ared-baseline-r000", "codel-baseline-r002", "pie-baseline-r001"}
		if diff := cmp.Diff(expect, got); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("invalid records round trip their reason", func(t *testing.T) {
		store := openTestStore(t)
		record := testRecord("pie-baseline-r000")
		record.Valid = false
		record.InvalidReason = "no latency samples in capture or generator logs"
		if err := store.Append(record); err != nil {
			t.Fatal(err)
		}
		records, err := store.List()
		if err != nil {
			t.Fatal(err)
		}
		if records[0].Valid || records[0].InvalidReason != record.InvalidReason {
			t.Fatalf("got %+v", records[0])
		}
	})

	t.Run("clean empties the store", func(t *testing.T) {
		store := openTestStore(t)
		if err := store.Append(testRecord("sfq-baseline-r000")); err != nil {
			t.Fatal(err)
		}
		if err := store.Clean(); err != nil {
			t.Fatal(err)
		}
		records, err := store.List()
		if err != nil {
			t.Fatal(err)
		}
		if len(records) != 0 {
			t.Fatalf("got %d records", len(records))
		}
		exists, err := store.Has("sfq-baseline-r000")
		if err != nil {
			t.Fatal(err)
		}
		if exists {
			t.Fatal("expected the record to be gone")
		}
	})
}
