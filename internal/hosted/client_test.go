package hosted

import (
	"testing"

	"github.com/loqalabs/dyslu/internal/config"
	"github.com/stretchr/testify/require"
)

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(config.OpenAIConfig{APIKey: "  "})
	require.ErrorIs(t, err, config.ErrMissingCredential)
}

func TestNewClient(t *testing.T) {
	client, err := NewClient(config.OpenAIConfig{APIKey: "sk-test", BaseURL: "http://localhost:1234/v1/"})
	require.NoError(t, err)
	require.NotNil(t, client)
}
