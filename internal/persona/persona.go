// Package persona loads the fixed prompt that prefixes every completion.
package persona

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/loqalabs/dyslu/internal/llm"
	"gopkg.in/yaml.v3"
)

// ErrInvalid reports a persona document that cannot prime a conversation.
var ErrInvalid = errors.New("invalid persona")

// Persona is a named prompt plus the voice replies are spoken in.
type Persona struct {
	Name     string        `yaml:"name"`
	Voice    string        `yaml:"voice"`
	Messages []llm.Message `yaml:"messages"`
}

// Load reads and validates a persona file.
func Load(path string) (Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("read persona: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return Persona{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a persona document.
func Parse(data []byte) (Persona, error) {
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("parse persona: %w", err)
	}
	for i := range p.Messages {
		p.Messages[i].Role = strings.ToLower(strings.TrimSpace(p.Messages[i].Role))
		p.Messages[i].Content = strings.TrimSpace(p.Messages[i].Content)
	}
	if err := p.Validate(); err != nil {
		return Persona{}, err
	}
	return p, nil
}

func (p Persona) Validate() error {
	hasSystem := false
	for i, m := range p.Messages {
		switch m.Role {
		case llm.RoleSystem:
			hasSystem = true
		case llm.RoleUser, llm.RoleAssistant:
		default:
			return fmt.Errorf("%w: message %d has role %q", ErrInvalid, i, m.Role)
		}
		if m.Content == "" {
			return fmt.Errorf("%w: message %d is empty", ErrInvalid, i)
		}
	}
	if !hasSystem {
		return fmt.Errorf("%w: at least one system message is required", ErrInvalid)
	}
	return nil
}

// Prompt returns a copy of the persona messages, safe to extend.
func (p Persona) Prompt() []llm.Message {
	out := make([]llm.Message, len(p.Messages))
	copy(out, p.Messages)
	return out
}
