package orchestrator

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/fleetdeploy/fleetdeploy/pkg/model"
)

const (
	runsBucket = "runs"
	idxBucket  = "runs_by_id"
	metaBucket = "meta"
	latestKey  = "latest"
)

// Journal persists run summaries so `status` and the daemon API can
// read past runs after the process exits.
type Journal struct {
	db *bolt.DB
}

func OpenJournal(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{runsBucket, idxBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init journal buckets: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// SaveRun appends a summary under a monotonic sequence key and indexes
// it by run ID.
func (j *Journal) SaveRun(s model.RunSummary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket([]byte(runsBucket))
		seq, err := runs.NextSequence()
		if err != nil {
			return err
		}
		key := []byte(fmt.Sprintf("%020d", seq))
		if err := runs.Put(key, data); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(idxBucket)).Put([]byte(s.RunID), key); err != nil {
			return err
		}
		return tx.Bucket([]byte(metaBucket)).Put([]byte(latestKey), key)
	})
}

// GetRun looks a run up by ID. The second return is false when the ID
// is unknown.
func (j *Journal) GetRun(runID string) (model.RunSummary, bool, error) {
	var s model.RunSummary
	found := false
	err := j.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket([]byte(idxBucket)).Get([]byte(runID))
		if key == nil {
			return nil
		}
		data := tx.Bucket([]byte(runsBucket)).Get(key)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &s)
	})
	return s, found, err
}

// LatestRun returns the most recently saved summary.
func (j *Journal) LatestRun() (model.RunSummary, bool, error) {
	var s model.RunSummary
	found := false
	err := j.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket([]byte(metaBucket)).Get([]byte(latestKey))
		if key == nil {
			return nil
		}
		data := tx.Bucket([]byte(runsBucket)).Get(key)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &s)
	})
	return s, found, err
}

// ListRuns returns up to limit summaries, newest first.
func (j *Journal) ListRuns(limit int) ([]model.RunSummary, error) {
	var out []model.RunSummary
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(runsBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var s model.RunSummary
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			out = append(out, s)
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	return out, err
}
