package memo

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// storeVersion guards the on-disk format. A version bump invalidates all
// records, which the engine treats as every rule being stale once.
const storeVersion = 1

// DefaultDirName is the reserved subdirectory that holds record files.
const DefaultDirName = ".incmake"

// Store reads and writes one JSON record file per rule. The file lives
// in a reserved subdirectory next to the rule's primary output, so
// cleaning an output tree removes the records with it.
type Store struct {
	// DirName overrides DefaultDirName when non-empty.
	DirName string
}

type document struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

func (s Store) dirName() string {
	if s.DirName != "" {
		return s.DirName
	}
	return DefaultDirName
}

// PathFor returns the record file path for a rule keyed by its primary
// output path.
func (s Store) PathFor(primaryOutput string) string {
	dir, base := filepath.Split(filepath.Clean(primaryOutput))
	return filepath.Join(dir, s.dirName(), base+".json")
}

// Load returns the stored record for the rule. The second return is
// false on any miss: absent file, unreadable file, malformed JSON, or a
// version mismatch. Corruption is deliberately indistinguishable from
// absence; both force the rule to run.
func (s Store) Load(primaryOutput string) (Record, bool) {
	raw, err := os.ReadFile(s.PathFor(primaryOutput))
	if err != nil {
		return Record{}, false
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Record{}, false
	}
	if doc.Version != storeVersion {
		return Record{}, false
	}
	return Record{Entries: doc.Entries}, true
}

// Save writes the record for the rule, creating the reserved
// subdirectory as needed.
func (s Store) Save(primaryOutput string, rec Record) error {
	path := s.PathFor(primaryOutput)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := json.Marshal(document{Version: storeVersion, Entries: rec.Entries})
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// Delete removes the record for the rule. A missing record is not an
// error.
func (s Store) Delete(primaryOutput string) error {
	err := os.Remove(s.PathFor(primaryOutput))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
