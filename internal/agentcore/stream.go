package agentcore

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/sgalabs/agentflow/internal/log"
)

// maxEventSize is the buffer size for reading SSE lines (1MB).
const maxEventSize = 1024 * 1024

// StreamEvents subscribes to the backend's SSE progress stream for an
// operation and delivers parsed events on the returned channel. The channel
// is closed when the stream ends or ctx is cancelled.
//
// The stream is a convenience for live progress display only; the poll loop
// remains the source of truth for phase transitions, so a dropped stream is
// logged and ignored rather than surfaced as a workflow failure.
func (c *Client) StreamEvents(ctx context.Context, handle string) (<-chan Event, error) {
	endpoint, err := c.resolve("/operations/" + url.PathEscape(handle) + "/events")
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		return nil, &APIError{StatusCode: resp.StatusCode, Body: resp.Status}
	}

	events := make(chan Event, 16)
	log.SafeGo("agentcore-stream", func() {
		defer close(events)
		defer func() { _ = resp.Body.Close() }()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" || data == "[DONE]" {
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				log.Warn(log.CatClient, "Skipping malformed stream event", "handle", handle, "error", err)
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			log.Warn(log.CatClient, "Event stream ended with error", "handle", handle, "error", err)
		}
	})
	return events, nil
}
