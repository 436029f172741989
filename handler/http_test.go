package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"chat-bridge/internal/domain"
)

type failingBody struct {
	data   string
	sent   bool
	closed atomic.Bool
}

func (b *failingBody) Read(p []byte) (int, error) {
	if !b.sent {
		b.sent = true
		return copy(p, b.data), nil
	}
	return 0, errors.New("stream interrupted")
}

func (b *failingBody) Close() error {
	b.closed.Store(true)
	return nil
}

func TestHTTPHandler_StreamsChat(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader("{\"response\":\"Hel\"}\n{\"response\":\"lo\"}\n")}
	uc := &stubUseCase{body: body}
	srv := httptest.NewServer(NewHTTPHandler(newTestHandler(t, uc)))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/chat", strings.NewReader(`{"messages":[{"role":"user","content":"Hi"}]}`))
	require.NoError(t, err)
	req.Header.Set("X-Correlation-Id", "corr-9")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	require.Equal(t, "corr-9", resp.Header.Get("X-Correlation-Id"))

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "{\"response\":\"Hel\"}\n{\"response\":\"lo\"}\n", string(got))
	require.Equal(t, domain.Conversation{{Role: domain.RoleUser, Content: "Hi"}}, inputOf(uc).Messages)
	require.Equal(t, "corr-9", inputOf(uc).RequestID)
	require.True(t, body.closed.Load())
}

func TestHTTPHandler_ErrorResponse(t *testing.T) {
	uc := &stubUseCase{}
	srv := httptest.NewServer(NewHTTPHandler(newTestHandler(t, uc)))
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/api/chat", "application/json", strings.NewReader("not-json"))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := parseBody[errorResponse](t, string(got))
	require.Equal(t, "INVALID_INPUT", out.Error)
	requireNotCalled(t, uc)
}

func TestHTTPHandler_RejectsOversizedBody(t *testing.T) {
	uc := &stubUseCase{}
	srv := httptest.NewServer(NewHTTPHandler(newTestHandler(t, uc)))
	defer srv.Close()

	big := `{"messages":[{"role":"user","content":"` + strings.Repeat("a", maxRequestBody) + `"}]}`
	resp, err := srv.Client().Post(srv.URL+"/api/chat", "application/json", strings.NewReader(big))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Correlation-Id"))
	requireNotCalled(t, uc)
}

func TestHTTPHandler_TruncatesInterruptedStream(t *testing.T) {
	body := &failingBody{data: "{\"response\":\"partial\"}\n"}
	uc := &stubUseCase{body: body}
	srv := httptest.NewServer(NewHTTPHandler(newTestHandler(t, uc)))
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/api/chat", "application/json", strings.NewReader(`{"messages":[]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, err := io.ReadAll(resp.Body)
	require.Error(t, err)
	require.Equal(t, "{\"response\":\"partial\"}\n", string(got))
	require.True(t, body.closed.Load())
}

func TestHTTPHandler_ServesAssets(t *testing.T) {
	srv := httptest.NewServer(NewHTTPHandler(newTestHandler(t, &stubUseCase{}, WithAssets(testAssets()))))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "<html>home</html>", string(got))

	head, err := srv.Client().Head(srv.URL + "/style.css")
	require.NoError(t, err)
	defer head.Body.Close()
	require.Equal(t, http.StatusOK, head.StatusCode)
	require.Equal(t, int64(6), head.ContentLength)
}

func TestHTTPHandler_DispatchErrorBecomesInternalError(t *testing.T) {
	cases := []struct {
		name string
		resp *events.LambdaFunctionURLStreamingResponse
		err  error
	}{
		{name: "error", err: errors.New("dispatch broke")},
		{name: "nil response"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, &stubUseCase{})
			h.newID = func() string { return "corr-fallback" }
			a := &httpAdapter{
				h: h,
				handle: func(context.Context, events.LambdaFunctionURLRequest) (*events.LambdaFunctionURLStreamingResponse, error) {
					return tc.resp, tc.err
				},
			}

			rec := httptest.NewRecorder()
			a.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"messages":[]}`)))

			require.Equal(t, http.StatusInternalServerError, rec.Code)
			require.Equal(t, "corr-fallback", rec.Header().Get("X-Correlation-Id"))
			out := parseBody[errorResponse](t, rec.Body.String())
			require.Equal(t, "INTERNAL_ERROR", out.Error)
		})
	}
}
