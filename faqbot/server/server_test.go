package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	internal "github.com/ZanzyTHEbar/faqbot/faqbot"
	"github.com/ZanzyTHEbar/faqbot/faqbot/config"
	"github.com/ZanzyTHEbar/faqbot/faqbot/generation/harness"
	ports "github.com/ZanzyTHEbar/faqbot/faqbot/generation/harness/ports"
	"github.com/ZanzyTHEbar/faqbot/faqbot/memory/service"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRetriever struct {
	passages []service.Passage
	err      error
}

func (r *stubRetriever) Retrieve(ctx context.Context, query string, k int) ([]service.Passage, error) {
	return r.passages, r.err
}

type stubProvider struct {
	text string
	err  error
}

func (p *stubProvider) Complete(ctx context.Context, prompt string, opts ports.Options) (ports.Completion, error) {
	if p.err != nil {
		return ports.Completion{}, p.err
	}
	return ports.Completion{Text: p.text}, nil
}

type testEnv struct {
	srv       *Server
	retriever *stubRetriever
	provider  *stubProvider
	index     *service.MemoryIndex
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.Harness.RateLimitEnabled = false
	if mutate != nil {
		mutate(cfg)
	}

	env := &testEnv{
		retriever: &stubRetriever{passages: []service.Passage{{Text: "Question: Q\nRéponse: R"}}},
		provider:  &stubProvider{text: "Voici la réponse."},
		index:     service.NewMemoryIndex(),
	}

	metrics := service.NewMetricsCollector()
	orch, err := harness.NewFactory(cfg, zerolog.Nop()).CreateOrchestrator(env.retriever, env.provider, metrics)
	require.NoError(t, err)

	env.srv, err = New(cfg.Server, Deps{Orchestrator: orch, Index: env.index, Metrics: metrics}, zerolog.Nop())
	require.NoError(t, err)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeAsk(t *testing.T, rec *httptest.ResponseRecorder) AskResponse {
	t.Helper()
	var resp AskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestAsk_GeneratedAnswer(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/ask", `{"question":"Comment créer un compte?","session_id":"abc"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", rec.Header().Get(sessionHeader))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	resp := decodeAsk(t, rec)
	assert.Equal(t, "Voici la réponse.", resp.Response)
	assert.Equal(t, "abc", resp.SessionID)
	assert.Empty(t, resp.Error)
	require.Len(t, resp.History, 2)
	assert.Equal(t, ports.RoleUser, resp.History[0].Role)
	assert.Equal(t, "Comment créer un compte?", resp.History[0].Content)

	// Wire shape uses role/content only
	assert.Contains(t, rec.Body.String(), `{"role":"human","content":"Comment créer un compte?"}`)
}

func TestAsk_MintsSessionCookie(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/ask", `{"question":"bravo"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, sessionCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	minted := cookies[0].Value
	assert.Equal(t, minted, decodeAsk(t, rec).SessionID)

	// The cookie carries the conversation forward
	rec = env.do(t, http.MethodPost, "/ask", `{"question":"merci"}`, http.Header{"Cookie": {sessionCookie + "=" + minted}})
	resp := decodeAsk(t, rec)
	assert.Equal(t, minted, resp.SessionID)
	assert.Len(t, resp.History, 4)
	assert.Empty(t, rec.Result().Cookies())
}

func TestAsk_HeaderSession(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/ask", `{"question":"bravo"}`, http.Header{sessionHeader: {"from-header"}})
	assert.Equal(t, "from-header", decodeAsk(t, rec).SessionID)
}

func TestAsk_InvalidRequests(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"question":`},
		{name: "missing question", body: `{}`},
		{name: "wrong type", body: `{"question":42}`},
		{name: "bad session id", body: `{"question":"q","session_id":"../etc"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/ask", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "invalid_request", resp.Error)
			assert.NotEmpty(t, resp.Detail)
		})
	}
}

func TestAsk_BlankQuestionIsAnswered(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, body := range []string{`{"question":""}`, `{"question":"   "}`} {
		rec := env.do(t, http.MethodPost, "/ask", body, nil)
		require.Equal(t, http.StatusOK, rec.Code, body)

		resp := decodeAsk(t, rec)
		assert.Equal(t, "Voici la réponse.", resp.Response)
		assert.Empty(t, resp.Error)
		assert.Len(t, resp.History, 2)
	}
}

func TestAsk_FailureKeepsSuccessStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	env.provider.err = errors.New("model down")

	rec := env.do(t, http.MethodPost, "/ask", `{"question":"Comment créer un compte?"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeAsk(t, rec)
	assert.Equal(t, internal.DefaultErrorMessage, resp.Response)
	assert.Equal(t, harness.CodeGenerationFailed, resp.Error)
	assert.NotNil(t, resp.History)
	assert.Empty(t, resp.History)
	assert.Contains(t, rec.Body.String(), `"history":[]`)
}

func TestAsk_StrictStatus(t *testing.T) {
	tests := []struct {
		name       string
		retrieval  error
		generation error
		want       int
	}{
		{name: "retrieval", retrieval: errors.New("offline"), want: http.StatusBadGateway},
		{name: "generation", generation: errors.New("boom"), want: http.StatusBadGateway},
		{name: "timeout", generation: context.DeadlineExceeded, want: http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(cfg *config.Config) { cfg.Server.StrictStatus = true })
			env.retriever.err = tt.retrieval
			env.provider.err = tt.generation

			rec := env.do(t, http.MethodPost, "/ask", `{"question":"Comment créer un compte?"}`, nil)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, internal.DefaultErrorMessage, decodeAsk(t, rec).Response)
		})
	}
}

func TestAsk_StrictStatusRateLimited(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Server.StrictStatus = true
		cfg.Harness.RateLimitEnabled = true
		cfg.Harness.RateLimitCapacity = 1
		cfg.Harness.RateLimitRefillRate = time.Hour
	})

	body := `{"question":"bravo","session_id":"s"}`
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/ask", body, nil).Code)

	rec := env.do(t, http.MethodPost, "/ask", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, harness.CodeRateLimited, decodeAsk(t, rec).Error)
}

func TestSessions_HistoryAndDelete(t *testing.T) {
	env := newTestEnv(t, nil)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/sessions/nope/history", "", nil).Code)

	env.do(t, http.MethodPost, "/ask", `{"question":"bravo","session_id":"s1"}`, nil)

	rec := env.do(t, http.MethodGet, "/sessions/s1/history", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hist HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	assert.Equal(t, "s1", hist.SessionID)
	assert.Len(t, hist.History, 2)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/sessions/s1", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/sessions/s1", "", nil).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.index.Upsert(context.Background(), []service.Document{{ID: "0", Text: "x", Embedding: []float64{1}}}))
	env.do(t, http.MethodPost, "/ask", `{"question":"bravo","session_id":"s1"}`, nil)

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, HealthResponse{Status: "ok", Documents: 1, Sessions: 1}, health)

	rec = env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary service.MetricsSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.EqualValues(t, 1, summary.Outcomes[string(harness.OutcomeCanned)])
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodOptions, "/ask", "", http.Header{
		"Origin":                         {internal.DefaultAllowedOrigin},
		"Access-Control-Request-Method":  {http.MethodPost},
		"Access-Control-Request-Headers": {"Content-Type"},
	})
	assert.Equal(t, internal.DefaultAllowedOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = env.do(t, http.MethodOptions, "/ask", "", http.Header{
		"Origin":                        {"https://evil.example"},
		"Access-Control-Request-Method": {http.MethodPost},
	})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServe_GracefulShutdown(t *testing.T) {
	env := newTestEnv(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.srv.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Post(url+"/ask", "application/json", bytes.NewBufferString(`{"question":"bravo"}`))
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
