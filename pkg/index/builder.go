// Package index builds the per-skill and master index documents that
// summarize an interchange root. Index documents are derived data: they are
// regenerated from a disk scan and written through the normal hash-gated
// writer, so a rebuild over unchanged documents touches nothing.
package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/openclaw/interchange/pkg/frontmatter"
	"github.com/openclaw/interchange/pkg/interchange"
	"github.com/openclaw/interchange/pkg/serialize"
)

const (
	// DefaultGenerator is recorded in the header of every index document.
	DefaultGenerator = "@openclaw/interchange"
	// MasterSkill is the skill field of the master index.
	MasterSkill = "_master"
	// Unknown fills cells for documents whose header cannot be read.
	Unknown = "unknown"
)

var (
	skillHeaders  = []string{"File", "Type", "Layer", "Updated"}
	masterHeaders = []string{"Skill", "Files", "Last Updated"}
)

// FileDescriptor is one row of a per-skill index.
type FileDescriptor struct {
	// Path is relative to the interchange root with forward slashes.
	Path    string
	Type    string
	Layer   string
	Updated string
}

// Builder regenerates index documents for one Store.
type Builder struct {
	store     *interchange.Store
	generator string
	logger    *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithGenerator overrides the generator recorded in index headers.
func WithGenerator(g string) Option {
	return func(b *Builder) {
		if g != "" {
			b.generator = g
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder creates a Builder writing through store.
func NewBuilder(store *interchange.Store, opts ...Option) *Builder {
	b := &Builder{
		store:     store,
		generator: DefaultGenerator,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Store returns the store the builder reads and writes.
func (b *Builder) Store() *interchange.Store {
	return b.store
}

// UpdateIndex writes root/<skill>/_index.md listing files sorted by path.
// It is a no-op when the rendered table is unchanged.
func (b *Builder) UpdateIndex(ctx context.Context, skill string, files []FileDescriptor) error {
	sorted := make([]FileDescriptor, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	rows := make([][]string, 0, len(sorted))
	for _, f := range sorted {
		rows = append(rows, []string{f.Path, f.Type, f.Layer, f.Updated})
	}
	body := fmt.Sprintf("# %s Index\n\n%s\n", skill, serialize.Table(skillHeaders, rows))

	if err := b.store.Write(ctx, b.store.IndexPath(skill), b.indexMeta(skill, "index"), body, interchange.WriteOptions{}); err != nil {
		return fmt.Errorf("index: update %s: %w", skill, err)
	}
	return nil
}

// Rebuild rescans the root and regenerates the index of skill, or of every
// skill followed by the master index when skill is empty. A failure for one
// skill does not stop the others; all failures are joined.
func (b *Builder) Rebuild(ctx context.Context, skill string) error {
	skills := []string{skill}
	if skill == "" {
		var err error
		if skills, err = b.Skills(); err != nil {
			return err
		}
	}

	var errs []error
	for _, s := range skills {
		if err := ctx.Err(); err != nil {
			return err
		}
		files, err := b.Describe(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(files) == 0 {
			continue
		}
		if err := b.UpdateIndex(ctx, s, files); err != nil {
			errs = append(errs, err)
		}
	}

	if skill == "" {
		if err := b.UpdateMaster(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	b.logger.Debug("index: rebuilt", slog.String("skill", skill), slog.Int("skills", len(skills)))
	return nil
}

// UpdateMaster writes root/_index.md summarizing every skill that has an
// index document.
func (b *Builder) UpdateMaster(ctx context.Context) error {
	skills, err := b.Skills()
	if err != nil {
		return err
	}

	var rows [][]string
	for _, s := range skills {
		idx, err := b.store.Read(b.store.IndexPath(s))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		last := Unknown
		if err == nil && !idx.Meta.Updated.IsZero() {
			last = idx.Meta.Updated.String()
		}
		files, err := b.store.List(s, "")
		if err != nil {
			return fmt.Errorf("index: master: %w", err)
		}
		rows = append(rows, []string{s, strconv.Itoa(len(files)), last})
	}
	body := fmt.Sprintf("# Interchange Master Index\n\n%s\n", serialize.Table(masterHeaders, rows))

	if err := b.store.Write(ctx, b.store.MasterIndexPath(), b.indexMeta(MasterSkill, "index", "master"), body, interchange.WriteOptions{}); err != nil {
		return fmt.Errorf("index: update master: %w", err)
	}
	return nil
}

// Skills returns the skill directories directly under the root, sorted.
// Hidden directories and those starting with "_" are not skills.
func (b *Builder) Skills() ([]string, error) {
	entries, err := os.ReadDir(b.store.Root())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index: read root: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && IsSkillName(e.Name()) {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// IsSkillName reports whether a top-level directory name denotes a skill.
func IsSkillName(name string) bool {
	return name != "" && !strings.HasPrefix(name, ".") && !strings.HasPrefix(name, "_")
}

// Describe reads the header of every document of skill. Documents that
// cannot be read are described with Unknown cells.
func (b *Builder) Describe(skill string) ([]FileDescriptor, error) {
	paths, err := b.store.List(skill, "")
	if err != nil {
		return nil, fmt.Errorf("index: describe %s: %w", skill, err)
	}
	out := make([]FileDescriptor, 0, len(paths))
	for _, p := range paths {
		fd := FileDescriptor{Path: b.store.Rel(p), Type: Unknown, Layer: Unknown, Updated: Unknown}
		doc, err := b.store.Read(p)
		if err != nil {
			b.logger.Warn("index: unreadable document",
				slog.String("path", p),
				slog.String("error", err.Error()))
			out = append(out, fd)
			continue
		}
		fd.Type = orUnknown(doc.Meta.Type)
		fd.Layer = orUnknown(doc.Meta.Layer)
		fd.Updated = orUnknown(doc.Meta.Updated.String())
		out = append(out, fd)
	}
	return out, nil
}

func (b *Builder) indexMeta(skill string, tags ...string) frontmatter.Meta {
	return frontmatter.Meta{
		Skill:     skill,
		Type:      frontmatter.TypeSummary,
		Layer:     frontmatter.LayerOps,
		Version:   1,
		Generator: b.generator,
		Tags:      tags,
	}
}

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}
