package probe

import (
	"context"
	"io"
	"net/http"
	"time"
)

// HTTPCheck returns a Check that issues GET url. Any well-formed HTTP
// response counts as reachable regardless of status; connection refusal and
// timeouts do not. Each attempt is bounded by timeout when positive.
//
// The client should carry no Timeout of its own; the per-attempt deadline
// travels on the request context.
func HTTPCheck(client *http.Client, url string, timeout time.Duration) Check {
	if client == nil {
		client = &http.Client{}
	}
	return func(ctx context.Context, attempt int) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return resp.Body.Close()
	}
}
