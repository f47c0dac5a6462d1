// Package registry maintains the installed-skills index. The whole file
// is a single JSON document rewritten through a temporary path and renamed
// over the target, so concurrent processes never observe a partial write.
package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/skillport-dev/skillport/internal/fsutil"
	"github.com/skillport-dev/skillport/internal/skerr"
)

// Record is one installed skill. At most one record exists per ID.
type Record struct {
	ID          string    `json:"id"`
	Version     string    `json:"version"`
	InstalledAt time.Time `json:"installed_at"`
	InstallPath string    `json:"install_path"`
	AuthorKeyID string    `json:"author_key_id"`
}

// Registry is the on-disk document.
type Registry struct {
	Skills []Record `json:"skills"`
}

// Load reads the registry at path; a missing file is an empty registry.
func Load(path string) (Registry, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Registry{Skills: []Record{}}, nil
		}
		return Registry{}, skerr.Wrap(skerr.CodeInternal, err, "read registry")
	}
	var reg Registry
	if err := json.Unmarshal(blob, &reg); err != nil {
		return Registry{}, skerr.Wrap(skerr.CodeInternal, err, "parse registry")
	}
	if reg.Skills == nil {
		reg.Skills = []Record{}
	}
	return reg, nil
}

// Save atomically rewrites the registry.
func Save(path string, reg Registry) error {
	sort.Slice(reg.Skills, func(i, j int) bool { return reg.Skills[i].ID < reg.Skills[j].ID })
	blob, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return skerr.Wrap(skerr.CodeInternal, err, "encode registry")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return skerr.Wrap(skerr.CodeInternal, err, "create registry dir")
	}
	if err := fsutil.AtomicWrite(path, append(blob, '\n'), 0o644); err != nil {
		return skerr.Wrap(skerr.CodeInternal, err, "write registry")
	}
	return nil
}

// Upsert removes any record sharing the id, then appends rec.
func Upsert(reg *Registry, rec Record) {
	Remove(reg, rec.ID)
	reg.Skills = append(reg.Skills, rec)
}

// Remove deletes the record with the given id, reporting whether one
// existed.
func Remove(reg *Registry, id string) bool {
	for i := range reg.Skills {
		if reg.Skills[i].ID == id {
			reg.Skills = append(reg.Skills[:i], reg.Skills[i+1:]...)
			return true
		}
	}
	return false
}

// Find returns the record for id, if present.
func Find(reg Registry, id string) (Record, bool) {
	for _, rec := range reg.Skills {
		if rec.ID == id {
			return rec, true
		}
	}
	return Record{}, false
}
