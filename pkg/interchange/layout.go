package interchange

import (
	"path/filepath"
	"strings"
)

// IndexFileName is the basename of per-skill and master index documents.
const IndexFileName = "_index.md"

// SkillDir returns root/<skill>.
func (s *Store) SkillDir(skill string) string {
	return filepath.Join(s.root, skill)
}

// DocPath returns root/<skill>/<layer>/<name>.md. name may contain slashes
// for nested documents; the .md extension is added when missing.
func (s *Store) DocPath(skill, layer, name string) string {
	if !strings.HasSuffix(name, ".md") {
		name += ".md"
	}
	return filepath.Join(s.root, skill, layer, filepath.FromSlash(name))
}

// IndexPath returns root/<skill>/_index.md.
func (s *Store) IndexPath(skill string) string {
	return filepath.Join(s.root, skill, IndexFileName)
}

// MasterIndexPath returns root/_index.md.
func (s *Store) MasterIndexPath() string {
	return filepath.Join(s.root, IndexFileName)
}

func isIndexFile(path string) bool {
	return filepath.Base(path) == IndexFileName
}

// Slugify lowercases s and collapses every run of characters outside
// [a-z0-9] into a single hyphen, trimming hyphens at either end.
func Slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pending := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte('-')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}
