package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"chat-bridge/internal/domain"
)

// ErrStreamInterrupted is returned by ChatOutput.Body when the pump stopped
// before the provider output was exhausted.
var ErrStreamInterrupted = errors.New("usecase: stream interrupted")

// pump copies one provider output into the sink. It is the sink's only
// writer, and every exit path closes the sink.
type pump struct {
	out     domain.InferenceOutput
	sink    *io.PipeWriter
	decoder *chunkDecoder
	logger  *slog.Logger
	buf     bytes.Buffer
}

type pumpResult struct {
	events int
	bytes  int64
	err    error
}

func (p *pump) run(ctx context.Context) (res pumpResult) {
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("usecase: pump panic: %v", r)
		}
		if p.out.Stream != nil {
			if err := p.out.Stream.Close(); err != nil {
				p.logger.Debug("failed to close provider stream", "err", err)
			}
		}
		if res.err != nil {
			p.logger.Error("stream interrupted", "events", res.events, "bytes", res.bytes, "err", res.err)
			_ = p.sink.CloseWithError(fmt.Errorf("%w: %w", ErrStreamInterrupted, res.err))
			return
		}
		p.logger.Info("stream completed", "events", res.events, "bytes", res.bytes)
		_ = p.sink.Close()
	}()

	switch p.out.Kind {
	case domain.OutputStream:
		res.err = p.pumpStream(ctx, &res)
	case domain.OutputWhole:
		res.err = p.writeWhole(&res)
	default:
		res.err = errors.New("usecase: unknown output kind")
	}
	return res
}

func (p *pump) pumpStream(ctx context.Context, res *pumpResult) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("usecase: generation aborted: %w", err)
		}
		chunk, err := p.out.Stream.Next(ctx)
		if len(chunk) > 0 {
			text, decErr := p.decoder.Decode(chunk)
			if decErr != nil {
				return decErr
			}
			if wErr := p.emit(text, res); wErr != nil {
				return wErr
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("usecase: read chunk: %w", err)
		}
	}

	tail, err := p.decoder.Flush()
	if err != nil {
		return err
	}
	return p.emit(tail, res)
}

func (p *pump) writeWhole(res *pumpResult) error {
	text, err := wholeText(p.out.Value)
	if err != nil {
		return err
	}
	return p.write(text, res)
}

// emit writes one event per non-empty piece of decoded text. A chunk that
// only carried part of a character produces no event.
func (p *pump) emit(text string, res *pumpResult) error {
	if text == "" {
		return nil
	}
	return p.write(text, res)
}

func (p *pump) write(text string, res *pumpResult) error {
	p.buf.Reset()
	enc := json.NewEncoder(&p.buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(domain.OutboundEvent{Response: text}); err != nil {
		return fmt.Errorf("usecase: encode event: %w", err)
	}
	n, err := p.sink.Write(p.buf.Bytes())
	res.bytes += int64(n)
	if err != nil {
		return fmt.Errorf("usecase: write event: %w", err)
	}
	res.events++
	return nil
}

// wholeText renders a single resolved provider value: text passes through,
// anything else is serialized as JSON.
func wholeText(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case []byte:
		d := newChunkDecoder()
		head, err := d.Decode(val)
		if err != nil {
			return "", err
		}
		tail, err := d.Flush()
		if err != nil {
			return "", err
		}
		return head + tail, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("usecase: serialize output: %w", err)
	}
	return string(raw), nil
}
