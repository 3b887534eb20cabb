package result

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrCorruptStore indicates the store file exists but does not contain a
// valid JSON array. The store is never auto-repaired, truncated, or
// overwritten in this state.
var ErrCorruptStore = errors.New("corrupt result store")

// Store persists benchmark records as a single JSON array file.
// Prior elements are never mutated; the only operation is append.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Append adds the record as the last element of the persisted array.
	Append(ctx context.Context, record *BenchmarkRecord) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type appendRequest struct {
	record *BenchmarkRecord
	reply  chan error
}

type store struct {
	log  logrus.FieldLogger
	path string
	ch   chan appendRequest
	wg   sync.WaitGroup
}

// NewStore creates a store backed by the JSON array file at path.
func NewStore(log logrus.FieldLogger, path string) Store {
	return &store{
		log:  log.WithField("component", "store"),
		path: path,
		ch:   make(chan appendRequest),
	}
}

// Start validates the existing store file and launches the writer goroutine.
// All appends are drained through one writer, so concurrent attempts within
// a run are serialized; the file itself is still not safe against a second
// process writing the same path.
func (s *store) Start(ctx context.Context) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating store directory: %w", err)
		}
	}

	// Fail fast on a corrupt store instead of discovering it on the first
	// completed attempt.
	if _, err := s.read(); err != nil {
		return err
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		for req := range s.ch {
			req.reply <- s.append(req.record)
		}
	}()

	s.log.WithField("path", s.path).Debug("Result store started")

	return nil
}

// Stop shuts down the writer goroutine after all pending appends complete.
func (s *store) Stop() error {
	close(s.ch)
	s.wg.Wait()

	return nil
}

// Append submits a record to the writer goroutine and waits for the outcome.
func (s *store) Append(ctx context.Context, record *BenchmarkRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := appendRequest{record: record, reply: make(chan error, 1)}

	select {
	case s.ch <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// read loads the current array. A missing file yields an empty array; an
// unparseable file yields ErrCorruptStore.
func (s *store) read() ([]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading store file: %w", err)
	}

	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s is not a JSON array: %v", ErrCorruptStore, s.path, err)
	}

	return records, nil
}

// append performs one read-modify-write cycle. The new array is written to a
// temp file and renamed into place so a crash mid-write cannot truncate the
// existing store.
func (s *store) append(record *BenchmarkRecord) error {
	records, err := s.read()
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}

	records = append(records, json.RawMessage(encoded))

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling store array: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing store temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replacing store file: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"machine": record.MachineID,
		"records": len(records),
	}).Debug("Record appended")

	return nil
}
