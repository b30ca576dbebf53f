// Package results persists metric records. The store is append-only
// and keyed by run identity: appending a record for a run that already
// has one fails, which is what lets an interrupted matrix resume by
// skipping the runs that already produced a record.
package results

import (
	"encoding/json"
	"sort"

	"github.com/aqmlab/aqmbench/internal/errorsx"
	"github.com/aqmlab/aqmbench/internal/model"
	"github.com/pkg/errors"
	"github.com/upper/db/v4"
	"github.com/upper/db/v4/adapter/sqlite"
)

// resultsTable is the table holding one row per run.
const resultsTable = "results"

// createTableQuery creates the schema on first open. The full record
// lives in the JSON column; the scalar columns exist for listing and
// filtering without decoding every record.
const createTableQuery = `
CREATE TABLE IF NOT EXISTS results (
	run_id TEXT PRIMARY KEY NOT NULL,
	attempt_id TEXT NOT NULL,
	mechanism TEXT NOT NULL,
	topology_profile TEXT NOT NULL,
	repetition INTEGER NOT NULL,
	valid INTEGER NOT NULL,
	invalid_reason TEXT NOT NULL DEFAULT '',
	record TEXT NOT NULL
)`

// resultRow is the database shape of a stored record.
type resultRow struct {
	RunID           string `db:"run_id"`
	AttemptID       string `db:"attempt_id"`
	Mechanism       string `db:"mechanism"`
	TopologyProfile string `db:"topology_profile"`
	Repetition      int    `db:"repetition"`
	Valid           bool   `db:"valid"`
	InvalidReason   string `db:"invalid_reason"`
	Record          string `db:"record"`
}

// Store is the append-only result store backed by sqlite.
type Store struct {
	logger model.Logger
	sess   db.Session
}

// Open connects to (and if needed initializes) the store at path.
func Open(path string, logger model.Logger) (*Store, error) {
	logger = model.ValidLoggerOrDefault(logger)
	logger.Debugf("results: connecting to sqlite3://%s", path)
	sess, err := sqlite.Open(sqlite.ConnectionURL{Database: path})
	if err != nil {
		return nil, errors.Wrap(err, "opening result store")
	}
	if _, err := sess.SQL().Exec(createTableQuery); err != nil {
		sess.Close()
		return nil, errors.Wrap(err, "initializing result store")
	}
	return &Store{logger: logger, sess: sess}, nil
}

// Close closes the underlying database session.
func (s *Store) Close() error {
	return s.sess.Close()
}

// Has tells whether a record for runID exists already.
func (s *Store) Has(runID model.RunID) (bool, error) {
	return s.sess.Collection(resultsTable).
		Find(db.Cond{"run_id": string(runID)}).Exists()
}

// Append stores the record for its run. A run appears at most once:
// appending twice for the same run returns [errorsx.ErrDuplicateRun]
// and leaves the first record untouched.
func (s *Store) Append(record *model.MetricRecord) error {
	exists, err := s.Has(record.RunID)
	if err != nil {
		return errors.Wrap(err, "checking for duplicate run")
	}
	if exists {
		return errorsx.ErrDuplicateRun
	}
	data, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "encoding record")
	}
	row := &resultRow{
		RunID:           string(record.RunID),
		AttemptID:       record.AttemptID,
		Mechanism:       string(record.Mechanism),
		TopologyProfile: record.TopologyProfile,
		Repetition:      record.Repetition,
		Valid:           record.Valid,
		InvalidReason:   record.InvalidReason,
		Record:          string(data),
	}
	if _, err := s.sess.Collection(resultsTable).Insert(row); err != nil {
		return errors.Wrap(err, "inserting record")
	}
	s.logger.Debugf("results: stored record for %s", record.RunID)
	return nil
}

// List returns every stored record ordered by run identity.
func (s *Store) List() ([]*model.MetricRecord, error) {
	var rows []resultRow
	err := s.sess.Collection(resultsTable).Find().All(&rows)
	if err != nil {
		return nil, errors.Wrap(err, "listing records")
	}
	records := make([]*model.MetricRecord, 0, len(rows))
	for _, row := range rows {
		var record model.MetricRecord
		if err := json.Unmarshal([]byte(row.Record), &record); err != nil {
			return nil, errors.Wrapf(err, "decoding record for %s", row.RunID)
		}
		records = append(records, &record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].RunID < records[j].RunID
	})
	return records, nil
}

// Clean removes every stored record. The caller owns the decision.
func (s *Store) Clean() error {
	err := s.sess.Collection(resultsTable).Find().Delete()
	return errors.Wrap(err, "cleaning result store")
}
