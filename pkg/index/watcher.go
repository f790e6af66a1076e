package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openclaw/interchange/pkg/interchange"
	"github.com/openclaw/interchange/pkg/storage"
)

// DefaultDebounce is how long the watcher waits for a burst of changes to
// settle before rebuilding.
const DefaultDebounce = 250 * time.Millisecond

// RebuildCallback is called after the watcher regenerates a skill's index.
type RebuildCallback func(skill string)

// Watch starts an fsnotify watcher on the builder's root and keeps index
// documents current until ctx is cancelled. Document changes mark their
// skill dirty; once no event has arrived for debounce, every dirty skill is
// rebuilt, then the master index. cb (if non-nil) is called per rebuilt skill.
//
// New directories created at runtime are automatically added to the watch
// list and their skill is rescanned, so files created before the directory
// was watched are not missed.
func Watch(ctx context.Context, b *Builder, debounce time.Duration, cb RebuildCallback) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	root := b.store.Root()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger := b.logger
	logger.Info("watcher: started", slog.String("root", root))

	dirty := make(map[string]struct{})
	var timer *time.Timer
	var timerCh <-chan time.Time

	schedule := func(skill string) {
		dirty[skill] = struct{}{}
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			timer, timerCh = nil, nil
			skills := make([]string, 0, len(dirty))
			for s := range dirty {
				skills = append(skills, s)
			}
			clear(dirty)
			sort.Strings(skills)
			flush(ctx, b, skills, cb)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			skill, relevant := skillOf(root, ev.Name)
			if !relevant {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", ev.Name))
					}
					schedule(skill)
					continue
				}
			}

			if !isDocumentEvent(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				logger.Debug("watcher: document changed",
					slog.String("path", ev.Name),
					slog.String("op", ev.Op.String()))
				schedule(skill)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func flush(ctx context.Context, b *Builder, skills []string, cb RebuildCallback) {
	for _, s := range skills {
		if err := b.Rebuild(ctx, s); err != nil {
			b.logger.Warn("watcher: rebuild failed",
				slog.String("skill", s),
				slog.String("error", err.Error()))
			continue
		}
		b.logger.Debug("watcher: rebuilt", slog.String("skill", s))
		if cb != nil {
			cb(s)
		}
	}
	if err := b.UpdateMaster(ctx); err != nil {
		b.logger.Warn("watcher: master rebuild failed", slog.String("error", err.Error()))
	}
}

// skillOf maps an event path to the skill directory it lives under.
func skillOf(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	if !IsSkillName(first) {
		return "", false
	}
	return first, true
}

// isDocumentEvent filters out index documents, staging files and lock side-cars.
func isDocumentEvent(path string) bool {
	name := filepath.Base(path)
	return strings.HasSuffix(name, ".md") &&
		name != interchange.IndexFileName &&
		!strings.HasPrefix(name, ".") &&
		!storage.IsTemp(name)
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
