package ticket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dutybot-io/dutybot/pkg/protocol"
)

// FileStore implements Store on a single JSON file. Every save rewrites the
// whole file; keys serialize in sorted order, so identical registries produce
// identical bytes.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore creates a store backed by the file at path. The file is not
// touched until the first Load or Save.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger}
}

func (s *FileStore) Load() (map[string]*protocol.Ticket, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("no tickets file found, starting fresh", "path", s.path)
		return make(map[string]*protocol.Ticket), nil
	}
	if err != nil {
		return nil, fmt.Errorf("ticket store: read %s: %w", s.path, err)
	}

	tickets := make(map[string]*protocol.Ticket)
	if err := json.Unmarshal(data, &tickets); err != nil {
		return nil, fmt.Errorf("ticket store: parse %s: %w", s.path, err)
	}
	s.logger.Info("tickets loaded", "path", s.path, "count", len(tickets))
	return tickets, nil
}

func (s *FileStore) Save(tickets map[string]*protocol.Ticket) error {
	data, err := json.MarshalIndent(tickets, "", "    ")
	if err != nil {
		return fmt.Errorf("ticket store: marshal: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("ticket store: write %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) Raw() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("ticket store: read %s: %w", s.path, err)
	}
	return data, nil
}
