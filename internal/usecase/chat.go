package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"chat-bridge/internal/domain"
)

const (
	DefaultModelID       = "gpt-4o-mini"
	DefaultSystemPrompt  = "You are a helpful, friendly assistant. Provide concise and accurate responses."
	defaultStreamTimeout = 120 * time.Second
	recordTimeout        = 3 * time.Second
)

// Provider is the inference backend. It either fails synchronously or
// returns one of the two output variants.
type Provider interface {
	CreateResponse(ctx context.Context, req domain.InferenceRequest) (domain.InferenceOutput, error)
}

// StreamRecorder persists a summary of each bridged response.
type StreamRecorder interface {
	RecordStream(ctx context.Context, rec domain.StreamRecord) error
}

type ChatConfig struct {
	ModelID       string
	SystemPrompt  string
	StreamTimeout time.Duration
}

type ChatOption func(*ChatService)

// WithRecorder enables the stream ledger.
func WithRecorder(r StreamRecorder) ChatOption {
	return func(s *ChatService) {
		s.recorder = r
	}
}

func WithLogger(l *slog.Logger) ChatOption {
	return func(s *ChatService) {
		if l != nil {
			s.logger = l
		}
	}
}

// ChatService is the streaming response bridge between a caller's
// conversation and the inference provider.
type ChatService struct {
	provider      Provider
	recorder      StreamRecorder
	logger        *slog.Logger
	modelID       string
	instructions  string
	streamTimeout time.Duration
	now           func() time.Time
}

type ChatInput struct {
	RequestID string
	Messages  domain.Conversation
}

// ChatOutput is handed to the HTTP layer as soon as it exists. Body yields
// newline-delimited OutboundEvents while the pump is still running; a non-EOF
// read error means the stream was cut short. The consumer must Close Body.
type ChatOutput struct {
	Body    io.ReadCloser
	Variant domain.OutputKind
}

func NewChatService(p Provider, cfg ChatConfig, opts ...ChatOption) (*ChatService, error) {
	if p == nil {
		return nil, errors.New("usecase: provider must not be nil")
	}
	modelID := strings.TrimSpace(cfg.ModelID)
	if modelID == "" {
		modelID = DefaultModelID
	}
	instructions := strings.TrimSpace(cfg.SystemPrompt)
	if instructions == "" {
		instructions = DefaultSystemPrompt
	}
	timeout := cfg.StreamTimeout
	if timeout <= 0 {
		timeout = defaultStreamTimeout
	}
	s := &ChatService{
		provider:      p,
		logger:        slog.Default(),
		modelID:       modelID,
		instructions:  instructions,
		streamTimeout: timeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Chat forwards the conversation upstream and returns a live body. Errors are
// only returned for failures before any byte is produced; later failures
// surface through the body.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	for i, m := range in.Messages {
		if !m.Role.Valid() {
			return ChatOutput{}, newError(ErrorInvalidInput, "unknown_role", &roleError{index: i, role: m.Role})
		}
	}

	req := s.buildRequest(in.Messages)
	started := s.now()

	// The generation context outlives this call; the pump owns cancel.
	genCtx, cancel := context.WithTimeout(ctx, s.streamTimeout)
	out, err := s.provider.CreateResponse(genCtx, req)
	if err != nil {
		cancel()
		if status, ok := upstreamStatusCode(err); ok {
			s.logger.Error("provider rejected request", "request_id", in.RequestID, "status", status, "err", err)
		} else {
			s.logger.Error("provider call failed", "request_id", in.RequestID, "err", err)
		}
		return ChatOutput{}, newError(ErrorUpstream, "provider_error", err)
	}
	if err := validateOutput(out); err != nil {
		cancel()
		if out.Stream != nil {
			_ = out.Stream.Close()
		}
		return ChatOutput{}, newError(ErrorUpstream, "provider_malformed_output", err)
	}

	pr, pw := io.Pipe()
	p := &pump{
		out:     out,
		sink:    pw,
		decoder: newChunkDecoder(),
		logger:  s.logger.With("request_id", in.RequestID, "variant", out.Kind.String()),
	}
	go func() {
		defer cancel()
		res := p.run(genCtx)
		s.record(genCtx, in.RequestID, out.Kind, started, res)
	}()

	return ChatOutput{Body: pr, Variant: out.Kind}, nil
}

func (s *ChatService) buildRequest(msgs domain.Conversation) domain.InferenceRequest {
	return domain.InferenceRequest{
		ModelID:      s.modelID,
		Instructions: s.instructions,
		Input:        msgs.WithoutSystem(),
		Stream:       true,
	}
}

func (s *ChatService) record(ctx context.Context, requestID string, kind domain.OutputKind, started time.Time, res pumpResult) {
	if s.recorder == nil {
		return
	}
	rec := domain.StreamRecord{
		RequestID: requestID,
		Model:     s.modelID,
		Variant:   kind.String(),
		Outcome:   domain.StreamOutcomeCompleted,
		Chunks:    res.events,
		Bytes:     res.bytes,
		StartedAt: started,
		Duration:  s.now().Sub(started),
	}
	if res.err != nil {
		rec.Outcome = domain.StreamOutcomeFailed
		rec.Error = res.err.Error()
	}
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := s.recorder.RecordStream(recCtx, rec); err != nil {
		s.logger.Warn("failed to record stream", "request_id", requestID, "err", err)
	}
}

func validateOutput(out domain.InferenceOutput) error {
	switch out.Kind {
	case domain.OutputStream:
		if out.Stream == nil {
			return errors.New("usecase: stream output without a stream")
		}
		return nil
	case domain.OutputWhole:
		return nil
	}
	return errors.New("usecase: unknown output kind")
}

type roleError struct {
	index int
	role  domain.Role
}

func (e *roleError) Error() string {
	return fmt.Sprintf("message %d has unknown role %q", e.index, e.role)
}
