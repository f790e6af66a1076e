package interchange

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// List returns the absolute paths of the documents under the root, or under
// root/<skill> when skill is set, sorted ascending. When layer is set only
// paths with a /<layer>/ directory segment are kept. Index documents,
// dot-files and anything below a dot-directory are skipped. An absent
// directory yields an empty list.
func (s *Store) List(skill, layer string) ([]string, error) {
	base := s.root
	if skill != "" {
		base = s.SkillDir(skill)
	}
	if _, err := os.Stat(base); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var out []string
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		name := d.Name()
		if d.IsDir() {
			if p != base && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".md") || name == IndexFileName {
			return nil
		}
		if layer != "" && !strings.Contains("/"+s.Rel(p), "/"+layer+"/") {
			return nil
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("interchange: list: %w", err)
	}
	sort.Strings(out)
	return out, nil
}
