// Package reconcile diffs an external system-of-record snapshot against the
// content hashes of documents on disk.
package reconcile

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openclaw/interchange/pkg/interchange"
)

// Record is the external system's view of one document.
type Record struct {
	ContentHash string
}

// Descriptor is the on-disk view of one document.
type Descriptor struct {
	ID          string
	ContentHash string
}

// Result partitions every identifier seen on either side. Each slice is
// sorted and no identifier appears in more than one.
type Result struct {
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Changed   []string `json:"changed"`
	Unchanged []string `json:"unchanged"`
}

// InSync reports whether nothing needs to be written or removed.
func (r Result) InSync() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Changed) == 0
}

// Diff compares external against onDisk. Identifiers only in external are
// added, only on disk are removed; shared identifiers are changed when
// their content hashes differ and unchanged otherwise. When onDisk repeats an
// identifier the last descriptor wins.
func Diff(external map[string]Record, onDisk []Descriptor) Result {
	disk := make(map[string]string, len(onDisk))
	for _, d := range onDisk {
		disk[d.ID] = d.ContentHash
	}

	r := Result{
		Added:     []string{},
		Removed:   []string{},
		Changed:   []string{},
		Unchanged: []string{},
	}
	for id, rec := range external {
		hash, ok := disk[id]
		switch {
		case !ok:
			r.Added = append(r.Added, id)
		case hash != rec.ContentHash:
			r.Changed = append(r.Changed, id)
		default:
			r.Unchanged = append(r.Unchanged, id)
		}
	}
	for id := range disk {
		if _, ok := external[id]; !ok {
			r.Removed = append(r.Removed, id)
		}
	}

	sort.Strings(r.Added)
	sort.Strings(r.Removed)
	sort.Strings(r.Changed)
	sort.Strings(r.Unchanged)
	return r
}

// IDFunc derives a document identifier from its absolute path.
type IDFunc func(path string) string

// Stem identifies a document by its file name without the .md extension.
func Stem(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".md")
}

// FromDisk lists the documents of skill (and layer, if set) and describes
// each by id and stored content_hash. A nil id uses Stem. Documents that
// cannot be read get an empty hash, which no stored content hash matches.
func FromDisk(store *interchange.Store, skill, layer string, id IDFunc) ([]Descriptor, error) {
	if id == nil {
		id = Stem
	}
	paths, err := store.List(skill, layer)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list: %w", err)
	}
	out := make([]Descriptor, 0, len(paths))
	for _, p := range paths {
		d := Descriptor{ID: id(p)}
		if doc, err := store.Read(p); err == nil {
			d.ContentHash = doc.Meta.ContentHash
		}
		out = append(out, d)
	}
	return out, nil
}
