package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"chat-bridge/internal/domain"
	"chat-bridge/internal/usecase"
)

const (
	chatPath          = "/api/chat"
	apiPrefix         = "/api/"
	correlationHeader = "X-Correlation-Id"
)

type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
}

// Handler routes Lambda function URL requests: chat requests go to the
// bridge, other API paths are 404, everything else is a static asset.
type Handler struct {
	chat   ChatUseCase
	assets fs.FS
	logger *slog.Logger
	newID  func() string
}

type Option func(*Handler)

func WithAssets(assets fs.FS) Option {
	return func(h *Handler) {
		h.assets = assets
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

type chatRequest struct {
	Messages []domain.ChatMessage `json:"messages"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

func NewHandler(chat ChatUseCase, opts ...Option) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	h := &Handler{
		chat:   chat,
		logger: slog.Default(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle never returns an error: every failure becomes a response.
func (h *Handler) Handle(ctx context.Context, req events.LambdaFunctionURLRequest) (*events.LambdaFunctionURLStreamingResponse, error) {
	corrID := h.correlationID(req.Headers)
	method := strings.ToUpper(req.RequestContext.HTTP.Method)
	p := requestPath(req)
	logger := h.logger.With("request_id", corrID, "method", method, "path", p)

	var resp *events.LambdaFunctionURLStreamingResponse
	switch {
	case p == chatPath:
		if method != http.MethodPost {
			resp = textResponse(http.StatusMethodNotAllowed, "Method not allowed")
			break
		}
		resp = h.handleChat(ctx, corrID, req, logger)
	case strings.HasPrefix(p, apiPrefix):
		resp = textResponse(http.StatusNotFound, "Not found")
	default:
		resp = h.serveAsset(method, p)
	}

	resp.Headers[correlationHeader] = corrID
	logger.Debug("request dispatched", "status", resp.StatusCode)
	return resp, nil
}

func (h *Handler) handleChat(ctx context.Context, corrID string, req events.LambdaFunctionURLRequest, logger *slog.Logger) *events.LambdaFunctionURLStreamingResponse {
	in, err := decodeChatRequest(req)
	if err != nil {
		logger.Warn("invalid chat request", "err", err)
		return errorResponseFor(err)
	}

	out, err := h.chat.Chat(ctx, usecase.ChatInput{RequestID: corrID, Messages: in.Messages})
	if err != nil {
		logger.Error("chat request failed", "code", usecase.CodeOf(err), "err", err)
		return errorResponseFor(err)
	}

	logger.Info("chat stream started", "messages", len(in.Messages), "variant", out.Variant.String())
	return &events.LambdaFunctionURLStreamingResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"Content-Type":  "text/event-stream",
			"Cache-Control": "no-cache",
			"Connection":    "keep-alive",
		},
		Body: out.Body,
	}
}

func decodeChatRequest(req events.LambdaFunctionURLRequest) (chatRequest, error) {
	body := req.Body
	if req.IsBase64Encoded {
		raw, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return chatRequest{}, usecase.InvalidInput("invalid_body_encoding", err)
		}
		body = string(raw)
	}

	var in chatRequest
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&in); err != nil {
		return chatRequest{}, usecase.InvalidInput("invalid_json", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return chatRequest{}, usecase.InvalidInput("invalid_json", errors.New("trailing data after JSON body"))
	}
	return in, nil
}

func (h *Handler) serveAsset(method, p string) *events.LambdaFunctionURLStreamingResponse {
	if method != http.MethodGet && method != http.MethodHead {
		return textResponse(http.StatusMethodNotAllowed, "Method not allowed")
	}
	if h.assets == nil {
		return textResponse(http.StatusNotFound, "Not found")
	}

	name := strings.TrimPrefix(path.Clean("/"+p), "/")
	if name == "" {
		name = "index.html"
	}
	info, err := fs.Stat(h.assets, name)
	if err == nil && info.IsDir() {
		name = path.Join(name, "index.html")
		info, err = fs.Stat(h.assets, name)
	}
	if err != nil || info.IsDir() {
		return textResponse(http.StatusNotFound, "Not found")
	}

	data, err := fs.ReadFile(h.assets, name)
	if err != nil {
		h.logger.Error("failed to read asset", "name", name, "err", err)
		return textResponse(http.StatusNotFound, "Not found")
	}

	ctype := mime.TypeByExtension(path.Ext(name))
	if ctype == "" {
		ctype = http.DetectContentType(data)
	}
	resp := &events.LambdaFunctionURLStreamingResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"Content-Type":   ctype,
			"Content-Length": fmt.Sprint(len(data)),
			"Cache-Control":  "public, max-age=300",
		},
	}
	if method == http.MethodGet {
		resp.Body = bytes.NewReader(data)
	}
	return resp
}

func textResponse(status int, msg string) *events.LambdaFunctionURLStreamingResponse {
	return &events.LambdaFunctionURLStreamingResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "text/plain; charset=utf-8"},
		Body:       strings.NewReader(msg),
	}
}

// errorResponseFor renders a pre-stream failure. Input and upstream failures
// share status 500; the error code tells them apart.
func errorResponseFor(err error) *events.LambdaFunctionURLStreamingResponse {
	details := err.Error()
	var ue *usecase.Error
	if errors.As(err, &ue) && ue.Err != nil {
		details = ue.Err.Error()
	}
	body, mErr := json.Marshal(errorResponse{
		Error:   string(usecase.CodeOf(err)),
		Details: details,
	})
	if mErr != nil {
		body = []byte(`{"error":"INTERNAL_ERROR","details":"failed to encode error"}`)
	}
	return &events.LambdaFunctionURLStreamingResponse{
		StatusCode: http.StatusInternalServerError,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       bytes.NewReader(body),
	}
}

func requestPath(req events.LambdaFunctionURLRequest) string {
	p := req.RawPath
	if p == "" {
		p = req.RequestContext.HTTP.Path
	}
	if p == "" {
		p = "/"
	}
	return p
}

func (h *Handler) correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return h.newID()
}
