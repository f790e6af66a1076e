package interchange

import (
	"errors"
	"fmt"
	"os"

	"github.com/openclaw/interchange/pkg/apperr"
	"github.com/openclaw/interchange/pkg/frontmatter"
)

// Document is a decoded interchange file.
type Document struct {
	Path      string
	Meta      frontmatter.Meta
	Content   string
	Raw       string
	HasHeader bool
}

// Read loads the document at path. A file without a header block is all body.
// A malformed header yields an *apperr.ParseError; a missing file wraps
// fs.ErrNotExist.
func (s *Store) Read(path string) (*Document, error) {
	abs, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("interchange: read %s: %w", path, err)
	}
	p, err := frontmatter.Parse(data)
	if err != nil {
		var pe *apperr.ParseError
		if errors.As(err, &pe) {
			pe.Path = abs
		}
		return nil, err
	}
	return &Document{
		Path:      abs,
		Meta:      p.Meta,
		Content:   p.Body,
		Raw:       string(data),
		HasHeader: p.HasHeader,
	}, nil
}

// NextGenerationID returns the generation the next changing write to path
// would receive: the stored generation_id plus one, or 1 when the file is
// absent or unreadable. Write makes the authoritative decision.
func (s *Store) NextGenerationID(path string) int {
	gen, _ := s.current(path)
	return gen + 1
}

// current returns the stored generation and content hash of the document at
// abs. Absent or unparsable documents count as generation 0 with no hash.
func (s *Store) current(abs string) (int, string) {
	doc, err := s.Read(abs)
	if err != nil {
		return 0, ""
	}
	gen := doc.Meta.GenerationID
	if gen < 0 {
		gen = 0
	}
	return gen, doc.Meta.ContentHash
}
