package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	logx "freshen/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.tasks.snapshot.json (periodic snapshot)
//   - <prefix>.tasks.journal.jsonl (append-only journal)
//
// Every write appends the full record document to the journal; the
// journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File
	docs         map[string]recordDoc

	writes int
}

const fileCompactEvery = 256

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".tasks.snapshot.json"
	journalPath := prefix + ".tasks.journal.jsonl"

	// Load records from snapshot + journal.
	docs := map[string]recordDoc{}
	_ = loadTaskSnapshot(snapPath, docs)
	_ = replayTaskJournal(journalPath, docs)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journalFile:  jf,
		docs:         docs,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	// Fold the journal into the snapshot so restarts replay nothing.
	if err := s.compactLocked(); err != nil {
		s.log.Debug("task snapshot compact failed", logx.Err(err))
	}
	err := s.journalFile.Close()
	s.journalFile = nil
	return err
}

func (s *fileStore) Insert(ctx context.Context, rec Record) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("task journal closed")
	}
	if _, ok := s.docs[rec.ID]; ok {
		return ErrExists
	}
	return s.writeLocked(encodeDoc(rec))
}

func (s *fileStore) Find(ctx context.Context, f Filter) ([]Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.docs))
	for _, d := range s.docs {
		rec := d.decode()
		if f.matches(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fileStore) FindOne(ctx context.Context, f Filter) (Record, error) {
	if f.ID != "" {
		s.mu.Lock()
		d, ok := s.docs[f.ID]
		s.mu.Unlock()
		if !ok {
			return Record{}, ErrNotFound
		}
		rec := d.decode()
		if !f.matches(rec) {
			return Record{}, ErrNotFound
		}
		return rec, nil
	}

	recs, err := s.Find(ctx, f)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, ErrNotFound
	}
	return recs[0], nil
}

func (s *fileStore) Update(ctx context.Context, f Filter, p Patch, opts UpdateOptions) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return 0, errors.New("task journal closed")
	}

	ids := make([]string, 0, 1)
	for id, d := range s.docs {
		if f.matches(d.decode()) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	if len(ids) == 0 && opts.Upsert {
		if f.ID == "" {
			return 0, errors.New("upsert requires an id filter")
		}
		rec := Record{ID: f.ID}
		p.Apply(&rec)
		if err := s.writeLocked(encodeDoc(rec)); err != nil {
			return 0, err
		}
		return 1, nil
	}

	for _, id := range ids {
		rec := s.docs[id].decode()
		p.Apply(&rec)
		if err := s.writeLocked(encodeDoc(rec)); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func (s *fileStore) writeLocked(d recordDoc) error {
	s.docs[d.ID] = d

	enc := json.NewEncoder(s.journalFile)
	if err := enc.Encode(d); err != nil {
		return err
	}
	s.writes++
	if s.writes%fileCompactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("task snapshot compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.docs); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadTaskSnapshot(path string, out map[string]recordDoc) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]recordDoc
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayTaskJournal(path string, out map[string]recordDoc) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		var d recordDoc
		if err := json.Unmarshal(s.Bytes(), &d); err != nil {
			continue
		}
		if d.ID == "" {
			continue
		}
		out[d.ID] = d
	}
	return s.Err()
}
