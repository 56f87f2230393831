// Package ollama talks to the local LLM runtime the voice server depends on:
// host addressing, model pulls over the native API and model listing over the
// OpenAI-compatible endpoint.
package ollama

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"voiceboot/internal/logging"
)

// DefaultBaseURL is where a stock `ollama serve` listens.
const DefaultBaseURL = "http://127.0.0.1:11434"

// Client is a minimal Ollama API client.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zerolog.Logger

	// VerifyAfterPull makes Fetch confirm the model is listed once pulled.
	VerifyAfterPull bool
}

// New returns a Client for baseURL. A nil hc uses a client without timeout;
// pulls of multi-GB models run for minutes, so deadlines belong on ctx.
func New(baseURL string, hc *http.Client, logger *zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		log:     logging.OrNop(logger),
	}
}

// Fetch pulls model, logging progress, and verifies it when VerifyAfterPull
// is set. Progress lines are logged at most once per status change.
func (c *Client) Fetch(ctx context.Context, model string) error {
	var lastStatus string
	err := c.Pull(ctx, model, func(p PullProgress) {
		if p.Status == lastStatus {
			return
		}
		lastStatus = p.Status
		ev := c.log.Info().Str("model", model).Str("status", p.Status)
		if p.Total > 0 {
			ev = ev.Int64("completed", p.Completed).Int64("total", p.Total)
		}
		ev.Msg("model pull")
	})
	if err != nil {
		return err
	}
	if !c.VerifyAfterPull {
		return nil
	}
	return c.Verify(ctx, model)
}

// HostEnv converts a base URL into the OLLAMA_HOST value `ollama serve`
// binds to, e.g. http://127.0.0.1:11434 -> 127.0.0.1:11434.
func HostEnv(baseURL string) (string, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse ollama base url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("ollama base url %q has no host", baseURL)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	return net.JoinHostPort(u.Hostname(), "11434"), nil
}
