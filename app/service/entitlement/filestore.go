package entitlement

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var _ Store = (*FileStore)(nil)

// FileStore keeps user records in a JSON-lines file, one record per line.
// The whole file is rewritten on every update, so a single mutex serializes
// all writers; that also covers the per-user serialization the Store
// contract requires.
type FileStore struct {
	path string
	mu   sync.RWMutex
}

func NewFileStore(path string) (*FileStore, error) {
	_ = os.MkdirAll(filepath.Dir(path), 0755)

	file, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open user db file: %w", err)
	}
	defer file.Close()

	return &FileStore{path: path}, nil
}

func (s *FileStore) Get(_ context.Context, userID string) (UserRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, err := s.load()
	if err != nil {
		return UserRecord{}, false, err
	}

	rec, ok := records[userID]
	return rec, ok, nil
}

func (s *FileStore) Update(_ context.Context, userID string, mutate func(*UserRecord)) (UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return UserRecord{}, err
	}

	rec, ok := records[userID]
	if !ok {
		rec = UserRecord{UserID: userID}
	}

	mutate(&rec)
	rec.UserID = userID
	records[userID] = rec

	if err = s.save(records); err != nil {
		return UserRecord{}, err
	}

	return rec, nil
}

func (s *FileStore) load() (map[string]UserRecord, error) {
	file, err := os.OpenFile(s.path, os.O_RDONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open user db file: %w", err)
	}
	defer file.Close()

	records := make(map[string]UserRecord)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec UserRecord
		if err = json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("failed to parse JSON line: %w", err)
		}

		records[rec.UserID] = rec
	}

	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading user db file: %w", err)
	}

	return records, nil
}

func (s *FileStore) save(records map[string]UserRecord) error {
	tmpPath := s.path + ".tmp"

	file, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create user db file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)

	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}

		if _, err = writer.WriteString(string(data) + "\n"); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	if err = writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}

	if err = file.Close(); err != nil {
		return fmt.Errorf("failed to close user db file: %w", err)
	}

	if err = os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace user db file: %w", err)
	}

	return nil
}
