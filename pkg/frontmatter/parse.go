package frontmatter

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openclaw/interchange/pkg/apperr"
	"github.com/openclaw/interchange/pkg/serialize"
)

// Delimiter opens and closes the header block.
const Delimiter = "---"

// Parsed is the result of splitting a document into header and body.
type Parsed struct {
	Meta      Meta
	Body      string
	HasHeader bool
}

// NormalizeNewlines converts CRLF and lone CR line endings to LF.
func NormalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// Split separates the header block from the body. A header exists only when
// text opens with a delimiter line and a later delimiter line closes it;
// otherwise the whole text is body. The body is returned byte-exact.
func Split(text string) (header, body string, ok bool) {
	open := Delimiter + "\n"
	if !strings.HasPrefix(text, open) {
		return "", text, false
	}
	rest := text[len(open):]

	if rest == Delimiter {
		return "", "", true
	}
	if strings.HasPrefix(rest, open) {
		return "", rest[len(open):], true
	}

	search := 0
	for {
		i := strings.Index(rest[search:], "\n"+Delimiter)
		if i < 0 {
			return "", text, false
		}
		i += search
		end := i + 1 + len(Delimiter)
		if end == len(rest) {
			return rest[:i+1], "", true
		}
		if rest[end] == '\n' {
			return rest[:i+1], rest[end+1:], true
		}
		search = i + 1
	}
}

// Parse normalizes line endings, splits the header, and decodes it into Meta.
// A delimited header that is not valid YAML for the schema yields an
// *apperr.ParseError.
func Parse(data []byte) (*Parsed, error) {
	header, body, ok := Split(NormalizeNewlines(string(data)))
	if !ok {
		return &Parsed{Body: body}, nil
	}
	var m Meta
	if strings.TrimSpace(header) != "" {
		if err := yaml.Unmarshal([]byte(header), &m); err != nil {
			return nil, &apperr.ParseError{Err: err}
		}
	}
	return &Parsed{Meta: m, Body: body, HasHeader: true}, nil
}

// Render produces the on-disk form of a document: delimited header then body.
func Render(m Meta, body string) (string, error) {
	header, err := serialize.Frontmatter(m.Map())
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(len(header) + len(body) + 2*len(Delimiter) + 2)
	b.WriteString(Delimiter + "\n")
	b.WriteString(header)
	b.WriteString(Delimiter + "\n")
	b.WriteString(body)
	return b.String(), nil
}
