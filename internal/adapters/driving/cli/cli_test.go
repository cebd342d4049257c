package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-rag/internal/adapters/driving/watch"
	"github.com/custodia-labs/sercha-rag/internal/config"
	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

const testDims = 4

func fakeProviders(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embeddings":
			var req struct {
				Prompt string `json:"prompt"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			vec := make([]float32, testDims)
			vec[0] = 1
			vec[2] = float32(len(req.Prompt))
			_ = json.NewEncoder(w).Encode(map[string]any{"embedding": vec})
		case "/chat/completions":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"id": "chatcmpl-1",
				"object": "chat.completion",
				"created": 1700000000,
				"model": "gpt-3.5-turbo",
				"choices": [{"index": 0, "message": {"role": "assistant", "content": "Turtles, mostly."}, "finish_reason": "stop"}]
			}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

// useConfig points every command at cfg and resets flag state afterwards
func useConfig(t *testing.T, cfg *config.Config) {
	t.Helper()
	orig := loadConfig
	loadConfig = func(string) (*config.Config, error) {
		c := *cfg
		return &c, nil
	}
	t.Cleanup(func() {
		loadConfig = orig
		resetFlags()
		rootCmd.SetArgs(nil)
	})
}

// resetFlags restores flag variables, which cobra keeps between executions
func resetFlags() {
	ingestWait = false
	askTopK, askJSON = 0, false
	jobsStatus, jobsLimit, jobsOffset, jobsJSON = "", 50, 0, false
	watchExisting, watchDebounce = false, watch.DefaultDebounce
	mcpPort = 0
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	server := fakeProviders(t)

	cfg := config.Default()
	cfg.Log.Level = "error"
	cfg.Queue.Backend = config.BackendMemory
	cfg.Index.Backend = config.BackendChromem
	cfg.Index.Collection = "cli-test"
	cfg.Index.ChromemPath = filepath.Join(t.TempDir(), "index")
	cfg.Embedding = domain.EmbeddingSettings{
		Provider:   domain.AIProviderOllama,
		Model:      "custom",
		BaseURL:    server.URL,
		Dimensions: testDims,
	}
	cfg.Generator = domain.GeneratorSettings{
		Provider: domain.AIProviderOpenAI,
		APIKey:   "sk-test",
		BaseURL:  server.URL,
	}
	cfg.Worker.DequeueTimeout = 20 * time.Millisecond
	cfg.Worker.PurgeInterval = 0
	require.NoError(t, cfg.Validate())
	return cfg
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestVersionCmd(t *testing.T) {
	orig := version
	SetVersion("1.2.3")
	defer func() { version = orig }()

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "sercha-rag version 1.2.3")
}

func TestSetVersion_IgnoresEmpty(t *testing.T) {
	orig := version
	defer func() { version = orig }()

	SetVersion("")
	assert.Equal(t, orig, version)
}

func TestRootCmd_HasCommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "ingest", "ask", "jobs", "watch", "mcp", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}

	flag := rootCmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
}

func TestIngestAndAsk(t *testing.T) {
	useConfig(t, testConfig(t))
	path := writeDoc(t, "turtles.txt", strings.Repeat("turtles all the way down. ", 10))

	out, err := execute(t, "ingest", path)
	require.NoError(t, err)
	assert.Contains(t, out, "queued turtles.txt as ")
	assert.Contains(t, out, "completed turtles.txt (3 chunks)")

	// The chromem index is persisted, so a fresh stack sees the chunks
	out, err = execute(t, "ask", "what", "is", "it", "about?")
	require.NoError(t, err)
	assert.Contains(t, out, "Turtles, mostly.")
	assert.Contains(t, out, "Sources:")
	assert.Contains(t, out, "turtles.txt")
}

func TestAsk_JSON(t *testing.T) {
	useConfig(t, testConfig(t))
	_, err := execute(t, "ingest", writeDoc(t, "notes.md", "# Notes\n\nTurtles live long."))
	require.NoError(t, err)

	out, err := execute(t, "ask", "--json", "-k", "1", "how long do turtles live?")
	require.NoError(t, err)

	var answer domain.Answer
	require.NoError(t, json.Unmarshal([]byte(out), &answer))
	assert.Equal(t, "how long do turtles live?", answer.Query)
	assert.Equal(t, "Turtles, mostly.", answer.Text)
	assert.Len(t, answer.Documents, 1)
}

func TestAsk_Validation(t *testing.T) {
	useConfig(t, testConfig(t))

	_, err := execute(t, "ask")
	assert.Error(t, err)

	_, err = execute(t, "ask", "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = execute(t, "ask", "--top-k=-1", "question")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestIngest_Errors(t *testing.T) {
	useConfig(t, testConfig(t))

	_, err := execute(t, "ingest")
	assert.Error(t, err)

	_, err = execute(t, "ingest", filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = execute(t, "ingest", writeDoc(t, "image.png", "not really"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestIngest_FailedJobIsReported(t *testing.T) {
	useConfig(t, testConfig(t))

	out, err := execute(t, "ingest",
		writeDoc(t, "broken.pdf", "not a pdf"),
		writeDoc(t, "empty.txt", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 jobs failed")
	assert.Contains(t, out, "failed    broken.pdf")
	assert.Contains(t, out, "completed empty.txt (0 chunks)")
}

func TestJobs_SharedQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Queue.Backend = config.BackendRedis
	cfg.Queue.RedisURL = "redis://" + mr.Addr()
	useConfig(t, cfg)

	// Without a running worker the job stays pending
	out, err := execute(t, "ingest", writeDoc(t, "queued.txt", "waiting for a worker"))
	require.NoError(t, err)
	require.Contains(t, out, "queued queued.txt as ")
	id := strings.TrimSpace(out[strings.LastIndex(out, " as ")+len(" as "):])

	out, err = execute(t, "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "pending")

	out, err = execute(t, "jobs", "list", "--status", "failed")
	require.NoError(t, err)
	assert.Contains(t, out, "No jobs found.")

	out, err = execute(t, "jobs", "get", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Source:    queued.txt")
	assert.Contains(t, out, "Status:    pending")

	out, err = execute(t, "jobs", "get", "--json", id)
	require.NoError(t, err)
	var job domain.IngestionJob
	require.NoError(t, json.Unmarshal([]byte(out), &job))
	assert.Equal(t, id, job.ID)

	out, err = execute(t, "jobs", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Pending:    1")

	out, err = execute(t, "jobs", "purge")
	require.NoError(t, err)
	assert.Contains(t, out, "Purged 0 jobs")
}

func TestJobs_Errors(t *testing.T) {
	useConfig(t, testConfig(t))

	_, err := execute(t, "jobs", "list", "--status", "stuck")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = execute(t, "jobs", "get", "no-such-job")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = execute(t, "jobs", "get")
	assert.Error(t, err)
}

func TestServe_UnknownMode(t *testing.T) {
	useConfig(t, testConfig(t))

	_, err := execute(t, "serve", "everything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestOpenStack_ConfigError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Index.Backend = "faiss"
	useConfig(t, cfg)

	_, err := execute(t, "jobs", "stats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open:")
}

func TestWatch_MissingDir(t *testing.T) {
	useConfig(t, testConfig(t))

	_, err := execute(t, "watch", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	_, err = execute(t, "watch")
	assert.Error(t, err)
}
