package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/simcoreservers/nutetra/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.doses.jsonl    (append-only JSON Lines)
//   - <prefix>.readings.jsonl (append-only JSON Lines)
//
// Reading history is append-only and never pruned by this backend; rigs
// that need retention enforcement should build the sqlite backend.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	dosesPath string
	doseFile  *os.File
	readFile  *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	dosesPath := prefix + ".doses.jsonl"
	readingsPath := prefix + ".readings.jsonl"

	df, err := os.OpenFile(dosesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	rf, err := os.OpenFile(readingsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = df.Close()
		return nil, err
	}

	return &fileStore{
		log:       log,
		dosesPath: dosesPath,
		doseFile:  df,
		readFile:  rf,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.doseFile != nil {
		err1 = s.doseFile.Close()
		s.doseFile = nil
	}
	if s.readFile != nil {
		err2 = s.readFile.Close()
		s.readFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendDose(ctx context.Context, row DoseRow) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doseFile == nil {
		return errors.New("dose log closed")
	}
	return json.NewEncoder(s.doseFile).Encode(row)
}

func (s *fileStore) AppendReading(ctx context.Context, row ReadingRow) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readFile == nil {
		return errors.New("reading log closed")
	}
	return json.NewEncoder(s.readFile).Encode(row)
}

// RecentDoses scans the dose log and returns the newest limit rows,
// newest first. The log is line-oriented, so a torn final line (crash
// mid-write) is skipped rather than failing the whole read.
func (s *fileStore) RecentDoses(ctx context.Context, limit int) ([]DoseRow, error) {
	_ = ctx
	s.mu.Lock()
	path := s.dosesPath
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var rows []DoseRow
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var row DoseRow
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			s.log.Debug("skipping malformed dose row", logx.Err(err))
			continue
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	// File order is oldest-first; callers want newest-first.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}
