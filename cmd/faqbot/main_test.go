package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	internal "github.com/ZanzyTHEbar/faqbot/faqbot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOllama embeds every text onto the same axis and answers every prompt with a fixed reply.
func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			var req struct {
				Input []string `json:"input"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			vecs := make([][]float64, len(req.Input))
			for i := range vecs {
				vecs[i] = []float64{1, 0, 0}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": vecs})
		case "/api/generate":
			_, _ = w.Write([]byte(`{"response":"Cliquez sur Inscription.","done":true}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeTestConfig(t *testing.T, ollamaURL string) (string, string) {
	t.Helper()
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "faq.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("Question,Answer\nComment créer un compte?,Cliquez sur Inscription.\nHoraires?,9h-18h.\n"), 0o644))

	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf(`
embedding:
  base_url: %[1]s
  max_retries: 0
llm:
  base_url: %[1]s
  max_retries: 0
store:
  type: libsql
  path: %[2]s
ingest:
  csv_path: %[3]s
log:
  level: error
`, ollamaURL, filepath.Join(dir, "store", "faq.db"), csvPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return cfgPath, csvPath
}

func TestRun_IngestThenAsk(t *testing.T) {
	srv := fakeOllama(t)
	cfgPath, _ := writeTestConfig(t, srv.URL)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"--config", cfgPath, "ingest"}, &out))
	assert.Contains(t, out.String(), "ingested 2 documents")

	out.Reset()
	require.NoError(t, run(ctx, []string{"--config", cfgPath, "ask", "Comment", "créer", "un", "compte?"}, &out))
	assert.Equal(t, "Cliquez sur Inscription.", strings.TrimSpace(out.String()))
}

func TestRun_AskCannedNeedsNoModel(t *testing.T) {
	cfgPath, _ := writeTestConfig(t, "http://127.0.0.1:1")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"--config", cfgPath, "ask", "--session", "t", "tu", "es", "nul"}, &out))
	assert.Contains(t, internal.DefaultInsultResponses, strings.TrimSpace(out.String()))
}

func TestRun_Usage(t *testing.T) {
	cfgPath, _ := writeTestConfig(t, "http://127.0.0.1:1")

	err := run(context.Background(), []string{"--config", cfgPath, "bogus"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, errUsage)

	err = run(context.Background(), []string{"--config", cfgPath, "ask"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, errUsage)
}
