package interview

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed sessions.yaml
var sessionsYAML []byte

// Session is one chapter of the guided life-story interview.
type Session struct {
	Number           int      `yaml:"number" json:"number"`
	Title            string   `yaml:"title" json:"title"`
	Description      string   `yaml:"description" json:"description"`
	EstimatedMinutes int      `yaml:"estimatedMinutes" json:"estimatedMinutes"`
	Questions        []string `yaml:"questions" json:"questions"`
}

// Catalog is the ordered set of interview sessions, numbered from 1.
type Catalog struct {
	sessions []Session
}

// LoadCatalog parses the embedded session catalog.
func LoadCatalog() (*Catalog, error) {
	return parseCatalog(sessionsYAML)
}

func parseCatalog(raw []byte) (*Catalog, error) {
	var doc struct {
		Sessions []Session `yaml:"sessions"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("interview: parse session catalog: %w", err)
	}
	if len(doc.Sessions) == 0 {
		return nil, fmt.Errorf("interview: session catalog is empty")
	}
	for i, s := range doc.Sessions {
		if s.Number != i+1 {
			return nil, fmt.Errorf("interview: session %d numbered %d, want contiguous numbering from 1", i+1, s.Number)
		}
		if s.Title == "" {
			return nil, fmt.Errorf("interview: session %d has no title", s.Number)
		}
		if len(s.Questions) == 0 {
			return nil, fmt.Errorf("interview: session %d has no questions", s.Number)
		}
	}
	return &Catalog{sessions: doc.Sessions}, nil
}

// Len reports the number of sessions.
func (c *Catalog) Len() int { return len(c.sessions) }

// Session returns the session with the given 1-based number.
func (c *Catalog) Session(number int) (Session, bool) {
	if number < 1 || number > len(c.sessions) {
		return Session{}, false
	}
	return c.sessions[number-1], true
}

// Sessions returns the full catalog in order.
func (c *Catalog) Sessions() []Session {
	out := make([]Session, len(c.sessions))
	copy(out, c.sessions)
	return out
}
