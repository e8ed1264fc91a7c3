package firebase

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/matheus3301/tchat/internal/realtime"
	"go.uber.org/zap"
)

// Listen opens a REST streaming (text/event-stream) subscription at path.
// Every put or patch event triggers a full snapshot re-read delivered to fn;
// consumers apply a full-replace, so the per-event payload itself is not
// merged. The returned cancel closes the stream.
func (s *Store) Listen(ctx context.Context, path string, fn func(json.RawMessage)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)

	tok, err := s.tokens.Token()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: listen %q: token: %v", realtime.ErrRead, path, err)
	}

	url := fmt.Sprintf("%s/%s.json?access_token=%s", s.url, strings.Trim(path, "/"), tok.AccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: listen %q: %v", realtime.ErrRead, path, err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.streamClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: listen %q: %v", realtime.ErrRead, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: listen %q: HTTP %d", realtime.ErrRead, path, resp.StatusCode)
	}

	go s.stream(ctx, path, resp, fn)
	return cancel, nil
}

// stream consumes server-sent events until the stream ends or ctx is
// canceled. The stream carries no retry policy: a broken subscription is
// surfaced in the logs and stays down until re-subscribed.
func (s *Store) stream(ctx context.Context, path string, resp *http.Response, fn func(json.RawMessage)) {
	defer func() { _ = resp.Body.Close() }()

	var event string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if dispatch := s.handleEvent(ctx, path, event, fn); !dispatch {
				return
			}
			event = ""
			continue
		}
		if field, value, ok := sseField(line); ok && field == "event" {
			event = value
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		s.logger.Warn("message stream closed",
			zap.String("path", path),
			zap.Error(err),
		)
	}
}

// handleEvent reacts to one complete server-sent event. It returns false
// when the stream should stop.
func (s *Store) handleEvent(ctx context.Context, path, event string, fn func(json.RawMessage)) bool {
	switch event {
	case "put", "patch":
		var raw json.RawMessage
		if err := s.Get(ctx, path, &raw); err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("snapshot refresh failed", zap.String("path", path), zap.Error(err))
			}
			return ctx.Err() == nil
		}
		fn(raw)
		return true
	case "keep-alive", "":
		return true
	case "cancel", "auth_revoked":
		s.logger.Warn("subscription revoked by server",
			zap.String("path", path),
			zap.String("event", event),
		)
		return false
	default:
		s.logger.Debug("ignoring unknown stream event",
			zap.String("path", path),
			zap.String("event", event),
		)
		return true
	}
}

// sseField splits one "field: value" line of a text/event-stream body.
func sseField(line string) (field, value string, ok bool) {
	field, value, ok = strings.Cut(line, ":")
	if !ok {
		return "", "", false
	}
	return field, strings.TrimPrefix(value, " "), true
}
