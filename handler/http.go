package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"chat-bridge/internal/usecase"
)

const maxRequestBody = 1 << 20

type writeError struct {
	err error
}

func (e *writeError) Error() string { return "write to client: " + e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

type httpAdapter struct {
	h      *Handler
	handle func(context.Context, events.LambdaFunctionURLRequest) (*events.LambdaFunctionURLStreamingResponse, error)
}

// NewHTTPHandler serves h over net/http. Response bodies are flushed after
// every read so streamed events reach the client as they are produced.
func NewHTTPHandler(h *Handler) http.Handler {
	return &httpAdapter{h: h, handle: h.Handle}
}

func (a *httpAdapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := toFunctionURLRequest(r)

	var resp *events.LambdaFunctionURLStreamingResponse
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		resp = errorResponseFor(usecase.InvalidInput("body_read_error", err))
		resp.Headers[correlationHeader] = a.h.correlationID(req.Headers)
	} else {
		req.Body = string(body)
		resp, err = a.handle(r.Context(), req)
		// Handle renders every failure as a response; an error here means
		// that contract broke, so answer like any other internal failure.
		if err != nil || resp == nil {
			if err == nil {
				err = errors.New("handler returned no response")
			}
			a.h.logger.Error("dispatch failed", "path", r.URL.Path, "err", err)
			resp = errorResponseFor(err)
			resp.Headers[correlationHeader] = a.h.correlationID(req.Headers)
		}
	}

	if c, ok := resp.Body.(io.Closer); ok {
		defer c.Close()
	}

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	for _, c := range resp.Cookies {
		w.Header().Add("Set-Cookie", c)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body == nil || r.Method == http.MethodHead {
		return
	}

	if err := copyFlushing(w, resp.Body); err != nil {
		var we *writeError
		if errors.As(err, &we) {
			a.h.logger.Info("client went away", "path", r.URL.Path, "err", err)
			return
		}
		a.h.logger.Error("response stream interrupted", "path", r.URL.Path, "err", err)
		// Drop the connection without the terminating chunk so the client
		// sees a truncated response.
		panic(http.ErrAbortHandler)
	}
}

func copyFlushing(w http.ResponseWriter, body io.Reader) error {
	rc := http.NewResponseController(w)
	buf := make([]byte, 32*1024)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return &writeError{err: err}
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return &writeError{err: err}
			}
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

func toFunctionURLRequest(r *http.Request) events.LambdaFunctionURLRequest {
	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		headers[strings.ToLower(k)] = strings.Join(v, ",")
	}
	var cookies []string
	for _, c := range r.Cookies() {
		cookies = append(cookies, c.String())
	}
	return events.LambdaFunctionURLRequest{
		Version:        "2.0",
		RawPath:        r.URL.Path,
		RawQueryString: r.URL.RawQuery,
		Cookies:        cookies,
		Headers:        headers,
		RequestContext: events.LambdaFunctionURLRequestContext{
			DomainName: r.Host,
			HTTP: events.LambdaFunctionURLRequestContextHTTPDescription{
				Method:    r.Method,
				Path:      r.URL.Path,
				Protocol:  r.Proto,
				SourceIP:  r.RemoteAddr,
				UserAgent: r.UserAgent(),
			},
		},
	}
}
