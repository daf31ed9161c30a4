package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StationMatch is the best directory entry for a query.
type StationMatch struct {
	Name       string  `json:"station_name"`
	Confidence float64 `json:"confidence"`
}

// Stations is a fixed, ordered station directory used for approximate
// name lookup.
type Stations struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	names []string
}

// NewStations creates a directory from names, in order.
func NewStations(names []string, logger *slog.Logger) *Stations {
	return &Stations{names: names, logger: logger.With("adapter", "stations")}
}

// LoadStations reads a directory from a JSON file. The file is either an
// array of names or an object keyed by name; object keys keep their
// document order.
func LoadStations(path string, logger *slog.Logger) (*Stations, error) {
	names, err := readStationFile(path)
	if err != nil {
		return nil, err
	}
	s := NewStations(names, logger)
	s.path = path
	s.logger.Info("station directory loaded", "path", path, "stations", len(names))
	return s, nil
}

// Len returns the directory size.
func (s *Stations) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.names)
}

// Match returns the entry with the highest similarity to query. On a tie
// the entry that comes first in the directory wins. ok is false only for
// an empty directory or a zero score everywhere.
func (s *Stations) Match(query string) (StationMatch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best StationMatch
	for _, name := range s.names {
		if r := Ratio(name, query); r > best.Confidence {
			best = StationMatch{Name: name, Confidence: r}
		}
	}
	return best, best.Name != ""
}

func (s *Stations) replace(names []string) {
	s.mu.Lock()
	s.names = names
	s.mu.Unlock()
}

// Watch reloads the directory whenever its file changes, until ctx is
// done. A file that fails to parse leaves the current directory in place.
func (s *Stations) Watch(ctx context.Context) error {
	if s.path == "" {
		return errors.New("stations: not loaded from a file")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("stations watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory so editors that replace the file by rename are
	// still seen.
	dir, file := filepath.Dir(s.path), filepath.Base(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("stations watch %s: %w", dir, err)
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	reload := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			names, err := readStationFile(s.path)
			if err != nil {
				s.logger.Warn("station directory reload failed", "path", s.path, "error", err)
				return
			}
			s.replace(names)
			s.logger.Info("station directory reloaded", "path", s.path, "stations", len(names))
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				reload()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("station watcher error", "error", err)
		}
	}
}

func readStationFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stations: %w", err)
	}
	names, err := parseStations(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("parse %s: no stations", path)
	}
	return names, nil
}

func parseStations(data []byte) ([]string, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var names []string
		if err := json.Unmarshal(data, &names); err != nil {
			return nil, err
		}
		return names, nil
	}

	// Object form: walk tokens so keys keep file order.
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected array or object, got %v", tok)
	}
	var names []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
		names = append(names, key)
	}
	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return names, nil
}
