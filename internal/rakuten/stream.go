package rakuten

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// SendMessage submits a turn and streams the response. Events arrive on the
// returned channel in backend order; it is closed when the stream ends. The
// error channel carries at most one transport-level failure. Both channels
// are closed by the time the stream is done, so ranging over the event
// channel and then draining the error channel is safe. Backend-reported
// errors inside the stream arrive as regular events tagged EventError and do
// not terminate the stream.
func (t *Thread) SendMessage(ctx context.Context, req SendMessageRequest) (<-chan Event, <-chan error) {
	eventCh := make(chan Event)
	errCh := make(chan error, 1)

	go func() {
		defer close(eventCh)
		defer close(errCh)
		if err := t.streamMessage(ctx, req, eventCh); err != nil {
			errCh <- err
		}
	}()

	return eventCh, errCh
}

func (t *Thread) streamMessage(ctx context.Context, req SendMessageRequest, eventCh chan<- Event) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}

	url := t.client.baseURL + "/threads/" + t.ID + "/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(raw)))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := t.client.streamingClient.Do(httpReq)
	if err != nil {
		t.client.logger.Error("stream connect failed", slog.String("thread_id", t.ID), slog.Any("error", err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		t.client.logger.Error("stream error",
			slog.String("thread_id", t.ID),
			slog.Int("status", resp.StatusCode),
			slog.String("body_prefix", truncate(string(errBody), 300)),
		)
		return fmt.Errorf("backend error: %s", strings.TrimSpace(string(errBody)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "event:") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var event Event
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			t.client.logger.Warn("malformed stream event",
				slog.String("thread_id", t.ID),
				slog.String("data_prefix", truncate(data, 200)),
			)
			continue
		}
		event.Raw = json.RawMessage(data)

		select {
		case eventCh <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}
