package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// PullProgress is one line of the /api/pull progress stream.
type PullProgress struct {
	Status    string
	Digest    string
	Completed int64
	Total     int64
}

// Pull asks the runtime to materialize model and blocks until the stream
// reports success. onProgress may be nil. The call is not retried.
func (c *Client) Pull(ctx context.Context, model string, onProgress func(PullProgress)) error {
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("ollama pull: empty model name")
	}
	body, err := json.Marshal(map[string]any{"model": model, "stream": true})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ollama pull %s: %w", model, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := gjson.GetBytes(b, "error").String()
		if msg == "" {
			msg = strings.TrimSpace(string(b))
		}
		return &APIError{Op: "pull " + model, Status: resp.StatusCode, Message: msg}
	}
	return readPullStream(resp.Body, model, onProgress)
}

func readPullStream(r io.Reader, model string, onProgress func(PullProgress)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	done := false
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if !gjson.ValidBytes(line) {
			return &APIError{Op: "pull " + model, Message: fmt.Sprintf("malformed progress line %q", line)}
		}
		res := gjson.GetManyBytes(line, "error", "status", "digest", "completed", "total")
		if msg := res[0].String(); msg != "" {
			return &APIError{Op: "pull " + model, Message: msg}
		}
		p := PullProgress{
			Status:    res[1].String(),
			Digest:    res[2].String(),
			Completed: res[3].Int(),
			Total:     res[4].Int(),
		}
		if onProgress != nil {
			onProgress(p)
		}
		if p.Status == "success" {
			done = true
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("ollama pull %s: read stream: %w", model, err)
	}
	if !done {
		return fmt.Errorf("ollama pull %s: %w", model, ErrPullIncomplete)
	}
	return nil
}
