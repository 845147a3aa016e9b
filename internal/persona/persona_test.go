package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/loqalabs/dyslu/internal/llm"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	p, err := Parse([]byte(`
name: test
voice: nova
messages:
  - role: System
    content: "  Be kind.  "
  - role: assistant
    content: Hello there.
`))
	require.NoError(t, err)
	require.Equal(t, "test", p.Name)
	require.Equal(t, "nova", p.Voice)
	require.Equal(t, []llm.Message{
		{Role: llm.RoleSystem, Content: "Be kind."},
		{Role: llm.RoleAssistant, Content: "Hello there."},
	}, p.Messages)
}

func TestParseRequiresSystemMessage(t *testing.T) {
	_, err := Parse([]byte("name: x\nmessages:\n  - role: user\n    content: hi\n"))
	require.ErrorIs(t, err, ErrInvalid)
}

func TestParseRejectsUnknownRole(t *testing.T) {
	_, err := Parse([]byte("messages:\n  - role: system\n    content: a\n  - role: tool\n    content: b\n"))
	require.ErrorIs(t, err, ErrInvalid)
}

func TestParseRejectsEmptyContent(t *testing.T) {
	_, err := Parse([]byte("messages:\n  - role: system\n    content: \"  \"\n"))
	require.ErrorIs(t, err, ErrInvalid)
}

func TestPromptIsACopy(t *testing.T) {
	p := Persona{Messages: []llm.Message{{Role: llm.RoleSystem, Content: "a"}}}
	prompt := p.Prompt()
	prompt[0].Content = "changed"
	prompt = append(prompt, llm.Message{Role: llm.RoleUser, Content: "b"})
	require.Equal(t, "a", p.Messages[0].Content)
	require.Len(t, p.Messages, 1)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestBundledPersonasAreValid(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("..", "..", "personas", "*.yaml"))
	require.NoError(t, err)
	require.Len(t, files, 5)
	for _, f := range files {
		p, err := Load(f)
		require.NoError(t, err, f)
		require.NotEmpty(t, p.Name, f)
	}
}

func TestLoadFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: disk\nmessages:\n  - role: system\n    content: hi\n"), 0o644))
	p, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "disk", p.Name)
}
