package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AudricY/mercari-jp-bot/models"
	"github.com/AudricY/mercari-jp-bot/utils"
)

// SeenStore is the persisted mapping signature → best-known price. Keys keep
// their first-sighting order so eviction always drops the oldest entries
// first; an in-place price update does not move an entry to the end.
//
// The store is owned by the main loop and mutated only under direct call, so
// it carries no lock. The on-disk file is the only state shared across
// restarts.
type SeenStore struct {
	logger  *utils.Logger
	records map[string]models.SeenRecord
	order   []string
}

// NewSeenStore returns an empty store.
func NewSeenStore(logger *utils.Logger) *SeenStore {
	return &SeenStore{
		logger:  logger,
		records: make(map[string]models.SeenRecord),
	}
}

// LoadSeenStore reads a persisted store from path. A missing file starts
// fresh; a malformed file is logged and also starts fresh. Corruption must
// never block startup.
func LoadSeenStore(path string, logger *utils.Logger) *SeenStore {
	s := NewSeenStore(logger)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("No seen items file found at %q. Starting fresh.", path)
		} else {
			logger.Error("Error reading seen items from %q: %v — starting with empty seen items.", path, err)
		}
		return s
	}

	if err := s.decode(data); err != nil {
		logger.Error("Error decoding seen items from %q: %v — starting with empty seen items.", path, err)
		return NewSeenStore(logger)
	}

	logger.Info("Loaded %d seen items from %q.", s.Len(), path)
	return s
}

// Len returns the number of known signatures.
func (s *SeenStore) Len() int {
	return len(s.order)
}

// Get returns the record for a signature, if present.
func (s *SeenStore) Get(sig string) (models.SeenRecord, bool) {
	rec, ok := s.records[sig]
	return rec, ok
}

// ShouldAccept reports whether a sighting at price is novel: the signature
// is unknown, or the price is strictly below the best recorded one.
func (s *SeenStore) ShouldAccept(sig string, price int) bool {
	rec, ok := s.records[sig]
	return !ok || price < rec.Price
}

// Record inserts or overwrites the entry for sig. New signatures append at
// the end of the eviction order; existing ones keep their original position.
func (s *SeenStore) Record(sig string, price int, timestamp string) {
	if _, ok := s.records[sig]; !ok {
		s.order = append(s.order, sig)
	}
	s.records[sig] = models.SeenRecord{Price: price, Timestamp: timestamp}
}

// Save trims the store to maxEntries (oldest-inserted first) and persists it
// atomically via a temp file and rename, so a crash mid-write leaves the
// previous version intact. I/O failures are logged, never raised.
func (s *SeenStore) Save(path string, maxEntries int) {
	if excess := len(s.order) - maxEntries; excess > 0 {
		for _, sig := range s.order[:excess] {
			delete(s.records, sig)
		}
		s.order = append([]string(nil), s.order[excess:]...)
	}

	data, err := s.encode()
	if err != nil {
		s.logger.Error("Failed to encode seen items: %v", err)
		return
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.logger.Error("Failed to create directory for %q: %v", path, err)
			return
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.logger.Error("Failed to write seen items to %q: %v", tmp, err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		s.logger.Error("Failed to replace seen items file %q: %v", path, err)
		return
	}

	s.logger.Info("Saved %d seen items to %q.", s.Len(), path)
}

// encode writes the store as a JSON object whose key order is the insertion
// order, so save → load → save round-trips byte for byte.
func (s *SeenStore) encode() ([]byte, error) {
	if len(s.order) == 0 {
		return []byte("{}\n"), nil
	}

	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, sig := range s.order {
		key, err := json.Marshal(sig)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(s.records[sig])
		if err != nil {
			return nil, err
		}
		buf.WriteString("  ")
		buf.Write(key)
		buf.WriteString(": ")
		buf.Write(val)
		if i < len(s.order)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

// decode parses a JSON object token by token, preserving key order. A plain
// map decode would lose the insertion order the eviction policy depends on.
func (s *SeenStore) decode(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		sig, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("expected string key, got %v", keyTok)
		}

		var rec models.SeenRecord
		if err := dec.Decode(&rec); err != nil {
			return fmt.Errorf("record for %q: %w", sig, err)
		}
		s.Record(sig, rec.Price, rec.Timestamp)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
