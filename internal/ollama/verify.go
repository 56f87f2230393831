package ollama

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Models lists model ids through the OpenAI-compatible /v1 endpoint.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	oc := openai.NewClient(
		option.WithBaseURL(c.baseURL+"/v1/"),
		// Ollama ignores the key but the SDK requires one.
		option.WithAPIKey("ollama"),
		option.WithHTTPClient(c.http),
		option.WithMaxRetries(0),
	)
	page, err := oc.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ollama list models: %w", err)
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// Verify checks that model is listed by the runtime. A name without a tag
// matches its ":latest" variant.
func (c *Client) Verify(ctx context.Context, model string) error {
	ids, err := c.Models(ctx)
	if err != nil {
		return err
	}
	want := normalizeModel(model)
	for _, id := range ids {
		if normalizeModel(id) == want {
			c.log.Info().Str("model", model).Msg("model verified")
			return nil
		}
	}
	return fmt.Errorf("%s: %w", model, ErrModelNotListed)
}

func normalizeModel(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, "/"); !strings.Contains(name[i+1:], ":") {
		return name + ":latest"
	}
	return name
}
