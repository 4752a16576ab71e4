package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/tfdeck/tfdeck/internal/auth"
	"github.com/tfdeck/tfdeck/internal/config"
	"github.com/tfdeck/tfdeck/internal/dashboard"
	"github.com/tfdeck/tfdeck/internal/history"
	"github.com/tfdeck/tfdeck/internal/logging"
	"github.com/tfdeck/tfdeck/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testPassword = "countersign-9"

var (
	hashOnce sync.Once
	testHash string
	hashErr  error
)

// passwordHash returns a shared argon2id hash of testPassword. Hashing is
// deliberately slow, so do it once for the package.
func passwordHash(t *testing.T) string {
	t.Helper()
	hashOnce.Do(func() {
		testHash, hashErr = auth.HashPassword(testPassword)
	})
	require.NoError(t, hashErr)
	return testHash
}

func testServer(t *testing.T, cfg config.ServerConfig, opts Options) *Server {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logging.FromZap(zaptest.NewLogger(t))
	}
	srv, err := New(cfg, opts)
	require.NoError(t, err)
	return srv
}

// mount serves the route tree from an httptest server.
func mount(t *testing.T, s *Server) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, ts *httptest.Server, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

// login posts the password and returns the status code and decoded body.
func login(t *testing.T, ts *httptest.Server, password string) (int, map[string]string) {
	t.Helper()
	resp, err := ts.Client().Post(ts.URL+"/api/login", "application/json",
		strings.NewReader(fmt.Sprintf(`{"password":%q}`, password)))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func testSnapshot(runID, phase string) dashboard.Snapshot {
	return dashboard.Snapshot{
		RunID:     runID,
		Operation: "plan",
		Command:   "terraform plan -json",
		Workspace: "default",
		Phase:     phase,
		StartedAt: time.Date(2026, 3, 12, 15, 42, 0, 0, time.UTC),
		Add:       1,
		Change:    2,
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("rejects invalid ports", func(t *testing.T) {
		t.Parallel()
		for _, port := range []int{-1, 65536} {
			_, err := New(config.ServerConfig{Port: port}, Options{})
			assert.ErrorContains(t, err, "invalid server port")
		}
	})

	t.Run("defaults the bind address", func(t *testing.T) {
		t.Parallel()
		srv := testServer(t, config.ServerConfig{Port: 0}, Options{})
		assert.Equal(t, config.DefaultServerBind, srv.bind)
	})
}

func TestLogin(t *testing.T) {
	t.Parallel()

	t.Run("no password configured", func(t *testing.T) {
		t.Parallel()
		ts := mount(t, testServer(t, config.ServerConfig{}, Options{}))

		code, body := login(t, ts, "anything")
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "no password is set", body["error"])
	})

	t.Run("wrong password", func(t *testing.T) {
		t.Parallel()
		ts := mount(t, testServer(t, config.ServerConfig{PasswordHash: passwordHash(t)}, Options{}))

		code, body := login(t, ts, "not-it")
		assert.Equal(t, http.StatusUnauthorized, code)
		assert.Equal(t, "invalid password", body["error"])
	})

	t.Run("correct password yields a session token", func(t *testing.T) {
		t.Parallel()
		srv := testServer(t, config.ServerConfig{PasswordHash: passwordHash(t)}, Options{})
		ts := mount(t, srv)

		code, body := login(t, ts, testPassword)
		require.Equal(t, http.StatusOK, code)
		_, err := uuid.Parse(body["token"])
		require.NoError(t, err)

		// The token opens the API; without one it stays shut.
		resp := get(t, ts, "/api/state", body["token"])
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp = get(t, ts, "/api/state", "")
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("empty password is a bad request", func(t *testing.T) {
		t.Parallel()
		ts := mount(t, testServer(t, config.ServerConfig{PasswordHash: passwordHash(t)}, Options{}))

		code, _ := login(t, ts, "")
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("rate limited after too many attempts", func(t *testing.T) {
		t.Parallel()
		srv := testServer(t, config.ServerConfig{PasswordHash: passwordHash(t)}, Options{})
		srv.limiter = newLoginLimiter(LimiterConfig{MaxAttempts: 2, Window: time.Hour}, srv.log)
		ts := mount(t, srv)

		login(t, ts, "wrong")
		login(t, ts, "wrong")
		resp, err := ts.Client().Post(ts.URL+"/api/login", "application/json",
			strings.NewReader(fmt.Sprintf(`{"password":%q}`, testPassword)))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	})
}

func TestAuth(t *testing.T) {
	t.Parallel()

	t.Run("index and metrics stay open", func(t *testing.T) {
		t.Parallel()
		ts := mount(t, testServer(t, config.ServerConfig{PasswordHash: passwordHash(t)}, Options{}))

		resp := get(t, ts, "/", "")
		page, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(page), "tfdeck")

		resp = get(t, ts, "/metrics", "")
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("api routes reject bad tokens", func(t *testing.T) {
		t.Parallel()
		ts := mount(t, testServer(t, config.ServerConfig{PasswordHash: passwordHash(t)}, Options{}))

		for _, path := range []string{"/api/state", "/api/events", "/api/runs", "/api/runs/run-x/events"} {
			resp := get(t, ts, path, "not-a-token")
			resp.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		}
	})

	t.Run("token rides the query for EventSource clients", func(t *testing.T) {
		t.Parallel()
		srv := testServer(t, config.ServerConfig{PasswordHash: passwordHash(t)}, Options{})
		ts := mount(t, srv)

		token := srv.issueToken()
		resp := get(t, ts, "/api/state?access_token="+token, "")
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("open server needs no token", func(t *testing.T) {
		t.Parallel()
		ts := mount(t, testServer(t, config.ServerConfig{}, Options{}))

		resp := get(t, ts, "/api/runs", "")
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("expired tokens stop working", func(t *testing.T) {
		t.Parallel()
		srv := testServer(t, config.ServerConfig{PasswordHash: passwordHash(t)}, Options{})
		ts := mount(t, srv)

		token := srv.issueToken()
		srv.mu.Lock()
		srv.tokens[token] = time.Now().Add(-time.Minute)
		srv.mu.Unlock()
		srv.expireTokens()

		resp := get(t, ts, "/api/state", token)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestState(t *testing.T) {
	t.Parallel()
	srv := testServer(t, config.ServerConfig{}, Options{})
	ts := mount(t, srv)

	resp := get(t, ts, "/api/state", "")
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	srv.Publish(testSnapshot("run-20260312T154200-aaaa1111", "planning"))
	srv.Publish(testSnapshot("run-20260312T154200-aaaa1111", "done"))

	resp = get(t, ts, "/api/state", "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap dashboard.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "run-20260312T154200-aaaa1111", snap.RunID)
	assert.Equal(t, "done", snap.Phase)
}

func TestRuns(t *testing.T) {
	t.Parallel()

	t.Run("empty without a store", func(t *testing.T) {
		t.Parallel()
		ts := mount(t, testServer(t, config.ServerConfig{}, Options{}))

		resp := get(t, ts, "/api/runs", "")
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var recs []*history.RunRecord
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&recs))
		assert.Empty(t, recs)
	})

	t.Run("lists recorded runs newest first", func(t *testing.T) {
		t.Parallel()
		store := history.NewStore(t.TempDir())
		older := &history.RunRecord{
			ID:        "run-20260310T090000-aaaa0001",
			Operation: "plan",
			StartedAt: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
			Outcome:   history.OutcomeSucceeded,
		}
		newer := &history.RunRecord{
			ID:        "run-20260311T090000-aaaa0002",
			Operation: "apply",
			StartedAt: time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC),
			Outcome:   history.OutcomeFailed,
		}
		require.NoError(t, store.CreateRun(older))
		require.NoError(t, store.CreateRun(newer))

		ts := mount(t, testServer(t, config.ServerConfig{}, Options{Store: store}))
		resp := get(t, ts, "/api/runs", "")
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var recs []*history.RunRecord
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&recs))
		require.Len(t, recs, 2)
		assert.Equal(t, newer.ID, recs[0].ID)
		assert.Equal(t, older.ID, recs[1].ID)
	})
}

func TestRunEvents(t *testing.T) {
	t.Parallel()

	lines := []string{
		`{"@level":"info","@message":"Terraform 1.9.4","type":"version","terraform":"1.9.4"}`,
		`{"@level":"info","@message":"Plan: 1 to add","type":"change_summary"}`,
		`{"@level":"info","@message":"Outputs: 0","type":"outputs"}`,
	}
	store := history.NewStore(t.TempDir())
	const id = "run-20260312T154200-bbbb2222"
	require.NoError(t, store.CreateRun(&history.RunRecord{
		ID:        id,
		Operation: "plan",
		StartedAt: time.Now().UTC(),
		Outcome:   history.OutcomeSucceeded,
	}))
	require.NoError(t, store.AppendEvents(id, lines))

	ts := mount(t, testServer(t, config.ServerConfig{}, Options{Store: store}))

	t.Run("serves the full log", func(t *testing.T) {
		resp := get(t, ts, "/api/runs/"+id+"/events", "")
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, strings.Join(lines, "\n")+"\n", string(body))
	})

	t.Run("from skips leading lines", func(t *testing.T) {
		resp := get(t, ts, "/api/runs/"+id+"/events?from=2", "")
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, lines[2]+"\n", string(body))
	})

	t.Run("rejects a garbage offset", func(t *testing.T) {
		resp := get(t, ts, "/api/runs/"+id+"/events?from=later", "")
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown run", func(t *testing.T) {
		resp := get(t, ts, "/api/runs/run-20991231T000000-ffffffff/events", "")
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("run with no events yet", func(t *testing.T) {
		const bare = "run-20260312T154200-cccc3333"
		require.NoError(t, store.CreateRun(&history.RunRecord{
			ID:        bare,
			Operation: "plan",
			StartedAt: time.Now().UTC(),
			Outcome:   history.OutcomeRunning,
		}))

		resp := get(t, ts, "/api/runs/"+bare+"/events", "")
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Empty(t, body)
	})
}

// sseFrame is one parsed server-sent event.
type sseFrame struct {
	id    string
	event string
	data  string
}

// readFrame reads lines until a complete event has been seen, skipping
// comment keepalives.
func readFrame(t *testing.T, br *bufio.Reader) sseFrame {
	t.Helper()
	var f sseFrame
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if f.event != "" || f.data != "" {
				return f
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			f.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			f.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			f.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

// streamEvent is the decoded data payload of a snapshot frame.
type streamEvent struct {
	Type  string             `json:"type"`
	Seq   uint64             `json:"seq"`
	RunID string             `json:"run_id"`
	Data  dashboard.Snapshot `json:"data"`
}

func openStream(t *testing.T, ts *httptest.Server, header http.Header) (*bufio.Reader, func()) {
	t.Helper()
	ctx, cancel := testutil.ShortOperationContext(t)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	require.NoError(t, err)
	for k, vs := range header {
		req.Header[k] = vs
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	return bufio.NewReader(resp.Body), func() {
		cancel()
		resp.Body.Close()
	}
}

func TestEvents(t *testing.T) {
	t.Parallel()

	t.Run("snapshot then live updates", func(t *testing.T) {
		t.Parallel()
		srv := testServer(t, config.ServerConfig{}, Options{})
		ts := mount(t, srv)

		srv.Publish(testSnapshot("run-20260312T154200-dddd4444", "planning"))

		br, done := openStream(t, ts, nil)
		defer done()

		first := readFrame(t, br)
		assert.Equal(t, "1", first.id)
		assert.Equal(t, "snapshot", first.event)

		var ev streamEvent
		require.NoError(t, json.Unmarshal([]byte(first.data), &ev))
		assert.Equal(t, uint64(1), ev.Seq)
		assert.Equal(t, "planning", ev.Data.Phase)

		// The subscription was live before the response headers arrived,
		// so this lands on the open stream.
		srv.Publish(testSnapshot("run-20260312T154200-dddd4444", "done"))

		second := readFrame(t, br)
		require.NoError(t, json.Unmarshal([]byte(second.data), &ev))
		assert.Equal(t, "2", second.id)
		assert.Equal(t, "done", ev.Data.Phase)
	})

	t.Run("resume skips the frame the client already saw", func(t *testing.T) {
		t.Parallel()
		srv := testServer(t, config.ServerConfig{}, Options{})
		ts := mount(t, srv)

		srv.Publish(testSnapshot("run-20260312T154200-eeee5555", "planning"))

		br, done := openStream(t, ts, http.Header{"Last-Event-Id": []string{"1"}})
		defer done()

		srv.Publish(testSnapshot("run-20260312T154200-eeee5555", "done"))

		var ev streamEvent
		frame := readFrame(t, br)
		require.NoError(t, json.Unmarshal([]byte(frame.data), &ev))
		assert.Equal(t, uint64(2), ev.Seq)
		assert.Equal(t, "done", ev.Data.Phase)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	srv := testServer(t, config.ServerConfig{PasswordHash: passwordHash(t)}, Options{})
	ts := mount(t, srv)

	srv.Publish(testSnapshot("run-20260312T154200-ffff6666", "planning"))
	srv.Publish(testSnapshot("run-20260312T154200-ffff6666", "done"))
	login(t, ts, "wrong")

	resp := get(t, ts, "/metrics", "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "tfdeck_events_published_total 2")
	assert.Contains(t, text, "tfdeck_login_failures_total 1")
	assert.Contains(t, text, "tfdeck_sse_clients 0")
	assert.Contains(t, text, `tfdeck_http_requests_total{code="401",path="/api/login"} 1`)
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.ShortOperationContext(t)
	defer cancel()

	srv := testServer(t, config.ServerConfig{Bind: "127.0.0.1", Port: 0}, Options{})

	errc := make(chan error, 1)
	go func() { errc <- srv.Start(ctx) }()

	require.Eventually(t, func() bool { return srv.ListenAddr() != "" },
		5*time.Second, 10*time.Millisecond)

	tr := &http.Transport{}
	client := &http.Client{Transport: tr}
	defer tr.CloseIdleConnections()

	resp, err := client.Get("http://" + srv.ListenAddr() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	second, err := New(config.ServerConfig{}, Options{})
	require.NoError(t, err)
	assert.NoError(t, second.Stop(), "stopping a never-started server is a no-op")

	require.NoError(t, srv.Stop())
	require.NoError(t, <-errc)
}
