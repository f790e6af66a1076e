// Package frontmatter defines the interchange document header, splits it from
// the markdown body, and validates it against the closed schema.
package frontmatter

import (
	"fmt"
	"math"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openclaw/interchange/pkg/serialize"
)

// Document types.
const (
	TypeSummary = "summary"
	TypeDetail  = "detail"
	TypeAlert   = "alert"
)

// Layers.
const (
	LayerOps   = "ops"
	LayerState = "state"
)

// Meta is the closed header schema of an interchange document.
type Meta struct {
	Skill        string    `yaml:"skill" json:"skill"`
	Type         string    `yaml:"type" json:"type"`
	Layer        string    `yaml:"layer" json:"layer"`
	Updated      Timestamp `yaml:"updated" json:"updated"`
	Version      int       `yaml:"version" json:"version"`
	GenerationID int       `yaml:"generation_id" json:"generation_id"`
	ContentHash  string    `yaml:"content_hash" json:"content_hash"`
	Generator    string    `yaml:"generator" json:"generator"`
	Tags         []string  `yaml:"tags" json:"tags"`
	// TTL is the freshness window in seconds; nil means the document never goes stale.
	TTL *int `yaml:"ttl,omitempty" json:"ttl,omitempty"`
}

// Map returns the header as a plain map for serialize.Frontmatter.
// A zero Updated and a nil TTL are omitted.
func (m Meta) Map() map[string]any {
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	out := map[string]any{
		"skill":         m.Skill,
		"type":          m.Type,
		"layer":         m.Layer,
		"version":       m.Version,
		"generation_id": m.GenerationID,
		"content_hash":  m.ContentHash,
		"generator":     m.Generator,
		"tags":          tags,
	}
	if !m.Updated.IsZero() {
		out["updated"] = m.Updated.Time
	}
	if m.TTL != nil {
		out["ttl"] = *m.TTL
	}
	return out
}

// maxTTL is the largest ttl, in seconds, representable as a time.Duration.
const maxTTL = math.MaxInt64 / int64(time.Second)

// Expiry returns updated+ttl. ok is false when the document has no TTL.
// A ttl beyond maxTTL saturates instead of wrapping into the past.
func (m Meta) Expiry() (t time.Time, ok bool) {
	if m.TTL == nil {
		return time.Time{}, false
	}
	secs := int64(*m.TTL)
	if secs > maxTTL {
		secs = maxTTL
	}
	return m.Updated.Add(time.Duration(secs) * time.Second), true
}

// Timestamp is a header time that accepts the ISO-8601 variants found in
// hand-written and generated documents.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	serialize.TimeFormat,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02",
}

// NewTimestamp truncates t to the millisecond precision the serializer keeps.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Millisecond)}
}

// UnmarshalYAML decodes quoted and unquoted timestamp scalars.
func (t *Timestamp) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("frontmatter: updated must be a scalar, got %s", kindName(n.Kind))
	}
	if n.ShortTag() == "!!null" || n.Value == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, n.Value); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("frontmatter: invalid timestamp %q", n.Value)
}

// String renders the canonical form, or "" for the zero time.
func (t Timestamp) String() string {
	if t.IsZero() {
		return ""
	}
	return serialize.FormatTime(t.Time)
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.AliasNode:
		return "alias"
	case yaml.DocumentNode:
		return "document"
	default:
		return "scalar"
	}
}
