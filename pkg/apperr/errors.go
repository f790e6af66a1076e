// Package apperr defines the typed failures returned by the interchange packages.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrLockTimeout        = errors.New("lock timeout")
	ErrInvalidFrontmatter = errors.New("invalid frontmatter")
	ErrParse              = errors.New("parse error")
	ErrCircuitOpen        = errors.New("circuit open")
)

// ValidationError carries every schema violation found for a header.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid frontmatter: %s", strings.Join(e.Errors, "; "))
}

// Is reports ErrInvalidFrontmatter as a match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidFrontmatter
}

// ParseError reports a header block that exists but cannot be decoded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("parse error: %v", e.Err)
	}
	return fmt.Sprintf("parse error: %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is reports ErrParse as a match.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}
