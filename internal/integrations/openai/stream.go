package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

const maxEventSize = 1 << 20

// streamEvent covers the Responses streaming events the bridge cares about.
type streamEvent struct {
	Type     string `json:"type"`
	Delta    string `json:"delta"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Response *struct {
		Status string    `json:"status"`
		Error  *apiError `json:"error"`
	} `json:"response"`
}

// StreamError reports a failure the upstream announced mid-stream.
type StreamError struct {
	Type    string
	Code    string
	Message string
}

func (e *StreamError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("openai: %s: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("openai: %s (%s): %s", e.Type, e.Code, e.Message)
}

// eventStream turns a server-sent event body into text chunks, one per
// output_text delta.
type eventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool

	closeOnce sync.Once
	closeErr  error
}

func newEventStream(body io.ReadCloser) *eventStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	return &eventStream{body: body, scanner: sc}
}

// Next returns the next text delta, or io.EOF once the response completed or
// the body ended.
func (s *eventStream) Next(ctx context.Context) ([]byte, error) {
	for {
		if s.done {
			return nil, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := s.readEvent()
		if err != nil {
			return nil, err
		}
		if data == nil {
			continue
		}
		if bytes.Equal(data, []byte("[DONE]")) {
			s.done = true
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("openai: decode stream event: %w", err)
		}
		switch ev.Type {
		case "response.output_text.delta":
			if ev.Delta != "" {
				return []byte(ev.Delta), nil
			}
		case "response.completed":
			s.done = true
		case "error":
			return nil, &StreamError{Type: ev.Type, Code: ev.Code, Message: ev.Message}
		case "response.failed", "response.incomplete":
			se := &StreamError{Type: ev.Type}
			if ev.Response != nil && ev.Response.Error != nil {
				se.Code = ev.Response.Error.Code
				se.Message = ev.Response.Error.Message
			}
			return nil, se
		}
	}
}

// readEvent returns the joined data lines of the next event. A nil slice with
// a nil error means the event had no data.
func (s *eventStream) readEvent() ([]byte, error) {
	var data []byte
	seen := false
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			if seen {
				return data, nil
			}
			continue
		}
		if line[0] == ':' {
			continue
		}
		field, value, _ := bytes.Cut(line, []byte(":"))
		if !bytes.Equal(field, []byte("data")) {
			continue
		}
		value = bytes.TrimPrefix(value, []byte(" "))
		if seen {
			data = append(data, '\n')
		}
		data = append(data, value...)
		seen = true
	}
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("openai: read stream: %w", err)
	}
	if seen {
		return data, nil
	}
	s.done = true
	return nil, io.EOF
}

func (s *eventStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
