package rates

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/oncoplus/pkg/observability"
)

// fileTable is the on-disk layout of a rate table. Rates are read as strings
// so a malformed cell becomes an invalid rate rather than a load failure.
type fileTable struct {
	Ranges []struct {
		AgeFrom   int    `yaml:"age_from"`
		AgeTo     *int   `yaml:"age_to"`
		Primary   string `yaml:"primary"`
		Secondary string `yaml:"secondary"`
	} `yaml:"ranges"`
}

// ParseYAML decodes a rate table document
func ParseYAML(data []byte) ([]RateRange, error) {
	var doc fileTable
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rate table: %w", err)
	}

	ranges := make([]RateRange, 0, len(doc.Ranges))
	for _, r := range doc.Ranges {
		ranges = append(ranges, NewRange(r.AgeFrom, r.AgeTo, r.Primary, r.Secondary))
	}
	if err := Validate(ranges); err != nil {
		return nil, err
	}
	return ranges, nil
}

// LoadFile reads and decodes a rate table file
func LoadFile(path string) ([]RateRange, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rate table %s: %w", path, err)
	}
	return ParseYAML(data)
}

// FileSource serves a YAML rate table and reloads it when the file changes
type FileSource struct {
	path   string
	logger *observability.Logger

	mu     sync.RWMutex
	ranges []RateRange
}

// NewFileSource loads path once and returns a source serving its contents
func NewFileSource(path string, logger *observability.Logger) (*FileSource, error) {
	s := &FileSource{path: path, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Ranges returns the most recently loaded table
func (s *FileSource) Ranges(ctx context.Context) ([]RateRange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RateRange, len(s.ranges))
	copy(out, s.ranges)
	return out, nil
}

// Reload re-reads the file. On failure the previous table stays in place.
func (s *FileSource) Reload() error {
	ranges, err := LoadFile(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.ranges = ranges
	s.mu.Unlock()
	return nil
}

// Watch reloads the table on writes until ctx is cancelled. The parent
// directory is watched so editors that replace the file are picked up.
func (s *FileSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.path, err)
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.Reload(); err != nil {
				s.logger.WithError(err).Warn("Rate table reload failed, keeping previous table")
				continue
			}
			s.logger.WithField("path", s.path).Info("Rate table reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.WithError(err).Warn("Rate table watcher error")
		}
	}
}
