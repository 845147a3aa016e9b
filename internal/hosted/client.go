// Package hosted builds the single vendor client shared by the speech,
// completion and synthesis backends.
package hosted

import (
	"strings"

	"github.com/loqalabs/dyslu/internal/config"
	"github.com/sashabaranov/go-openai"
)

// NewClient constructs the OpenAI client once at startup. A missing key is
// reported as config.ErrMissingCredential so callers can abort before any
// turn runs.
func NewClient(cfg config.OpenAIConfig) (*openai.Client, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, config.ErrMissingCredential
	}
	clientCfg := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Organization != "" {
		clientCfg.OrgID = cfg.Organization
	}
	return openai.NewClientWithConfig(clientCfg), nil
}
