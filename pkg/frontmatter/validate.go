package frontmatter

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/openclaw/interchange/pkg/apperr"
	"github.com/openclaw/interchange/pkg/checksum"
)

// Result is the outcome of a validation pass.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Err returns an *apperr.ValidationError, or nil when the result is valid.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return &apperr.ValidationError{Errors: r.Errors}
}

// Merge combines results; the merged result is valid only if all inputs are.
func Merge(results ...Result) Result {
	out := Result{Valid: true}
	for _, r := range results {
		if !r.Valid {
			out.Valid = false
		}
		out.Errors = append(out.Errors, r.Errors...)
	}
	return out
}

// Validate checks m against the required fields and value domains of the schema.
func Validate(m Meta) Result {
	err := validation.ValidateStruct(&m,
		validation.Field(&m.Skill, validation.Required),
		validation.Field(&m.Type, validation.Required, validation.In(TypeSummary, TypeDetail, TypeAlert)),
		validation.Field(&m.Layer, validation.Required, validation.In(LayerOps, LayerState)),
		validation.Field(&m.Updated, validation.By(requiredTime)),
		validation.Field(&m.Version, validation.Required, validation.Min(1)),
		validation.Field(&m.GenerationID, validation.Required, validation.Min(1)),
		validation.Field(&m.ContentHash, validation.Required, validation.By(contentHash)),
		validation.Field(&m.Generator, validation.Required),
		validation.Field(&m.Tags, validation.NotNil, validation.Each(validation.Required)),
		validation.Field(&m.TTL, validation.Min(0)),
	)
	return toResult(err)
}

// ValidateLayer checks that path has a directory segment equal to m.Layer.
func ValidateLayer(path string, m Meta) Result {
	if m.Layer == "" {
		return Result{Errors: []string{"layer: cannot be blank"}}
	}
	dir := filepath.ToSlash(filepath.Dir(filepath.Clean(path)))
	for _, seg := range strings.Split(dir, "/") {
		if seg == m.Layer {
			return Result{Valid: true}
		}
	}
	return Result{Errors: []string{fmt.Sprintf("layer: path %q has no %q segment", path, m.Layer)}}
}

func requiredTime(v any) error {
	ts, _ := v.(Timestamp)
	if ts.IsZero() {
		return errors.New("cannot be blank")
	}
	return nil
}

func contentHash(v any) error {
	s, _ := v.(string)
	if s == "" || checksum.IsContentHash(s) {
		return nil
	}
	return errors.New("must be \"sha256:\" followed by 64 lowercase hex characters")
}

func toResult(err error) Result {
	if err == nil {
		return Result{Valid: true}
	}
	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		return Result{Errors: []string{err.Error()}}
	}
	msgs := make([]string, 0, len(fieldErrs))
	for field, e := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s: %v", field, e))
	}
	sort.Strings(msgs)
	return Result{Errors: msgs}
}
