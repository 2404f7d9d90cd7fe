package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ranhill/speechrag/internal/health"
	"github.com/ranhill/speechrag/internal/server"
	"github.com/ranhill/speechrag/internal/stream"
)

// stubPinger is a toggleable readiness probe.
type stubPinger struct {
	mu  sync.Mutex
	err error
}

func (p *stubPinger) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *stubPinger) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// fakeSession records ingested chunks and optionally echoes an injection
// event back per chunk.
type fakeSession struct {
	mu     sync.Mutex
	chunks [][]byte
	closed bool

	send stream.Sender
	echo bool
}

func (f *fakeSession) OnChunk(ctx context.Context, chunk []byte) {
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	f.mu.Lock()
	f.chunks = append(f.chunks, cp)
	f.mu.Unlock()

	if f.echo {
		_ = f.send(ctx, stream.InjectionEvent{
			Type:    stream.EventTypeContextInjection,
			Payload: "<context>ALERT: Senai - Low Pressure. Recovery: 2h</context>",
			Source:  "test",
		})
	}
}

func (f *fakeSession) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (f *fakeSession) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSession) chunkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks)
}

func newTestServer(t *testing.T, echo bool) (*httptest.Server, *fakeSession) {
	t.Helper()

	sess := &fakeSession{echo: echo}
	srv, err := server.New(server.Config{
		ListenAddr: ":0",
		NewSession: func(_ string, send stream.Sender) (server.Session, error) {
			sess.send = send
			return sess, nil
		},
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, sess
}

func dialAudio(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws/audio"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	return conn
}

func TestNew_RequiresConfig(t *testing.T) {
	factory := func(string, stream.Sender) (server.Session, error) { return &fakeSession{}, nil }

	if _, err := server.New(server.Config{NewSession: factory}); err == nil {
		t.Error("New without listen address succeeded, want error")
	}
	if _, err := server.New(server.Config{ListenAddr: ":0"}); err == nil {
		t.Error("New without session factory succeeded, want error")
	}
}

func TestHealthRoutes(t *testing.T) {
	ts, _ := newTestServer(t, false)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + path)
			if err != nil {
				t.Fatalf("GET %s: %v", path, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
			}
		})
	}
}

// TestReadyz_ReportsCheckerResults verifies that every registered dependency
// check shows up in the readiness body and that any single failure flips the
// route to 503.
func TestReadyz_ReportsCheckerResults(t *testing.T) {
	encoderPing := &stubPinger{}
	indexPing := &stubPinger{}

	srv, err := server.New(server.Config{
		ListenAddr: ":0",
		NewSession: func(string, stream.Sender) (server.Session, error) {
			return &fakeSession{}, nil
		},
		Health: health.New(
			health.PingCheck("encoder", encoderPing),
			health.PingCheck("index", indexPing),
		),
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	readyz := func(t *testing.T) (int, map[string]string) {
		t.Helper()
		resp, err := http.Get(ts.URL + "/readyz")
		if err != nil {
			t.Fatalf("GET /readyz: %v", err)
		}
		defer resp.Body.Close()
		var body struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode readyz body: %v", err)
		}
		return resp.StatusCode, body.Checks
	}

	status, checks := readyz(t)
	if status != http.StatusOK {
		t.Fatalf("readyz = %d with healthy checks, want 200", status)
	}
	if checks["encoder"] != "ok" || checks["index"] != "ok" {
		t.Errorf("checks = %v, want encoder and index both ok", checks)
	}

	indexPing.setErr(errors.New("connection refused"))
	status, checks = readyz(t)
	if status != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d with failing index, want 503", status)
	}
	if checks["encoder"] != "ok" {
		t.Errorf(`checks["encoder"] = %q, want "ok"`, checks["encoder"])
	}
	if checks["index"] != "fail: connection refused" {
		t.Errorf(`checks["index"] = %q, want the index failure`, checks["index"])
	}
}

func TestAudioSession_BinaryFramesReachPipeline(t *testing.T) {
	ts, sess := newTestServer(t, false)
	conn := dialAudio(t, ts)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageBinary, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, []byte{5, 6}); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && sess.chunkCount() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	if sess.chunkCount() != 2 {
		t.Fatalf("pipeline saw %d chunks, want 2", sess.chunkCount())
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if len(sess.chunks[0]) != 4 || len(sess.chunks[1]) != 2 {
		t.Errorf("chunk sizes = %d, %d; want 4, 2", len(sess.chunks[0]), len(sess.chunks[1]))
	}
}

func TestAudioSession_TextFramesIgnored(t *testing.T) {
	ts, sess := newTestServer(t, false)
	conn := dialAudio(t, ts)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, []byte{1}); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && sess.chunkCount() < 1 {
		time.Sleep(5 * time.Millisecond)
	}
	if sess.chunkCount() != 1 {
		t.Fatalf("pipeline saw %d chunks, want 1 (text frame must be ignored)", sess.chunkCount())
	}
}

func TestAudioSession_InjectionEventReachesClient(t *testing.T) {
	ts, _ := newTestServer(t, true)
	conn := dialAudio(t, ts)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageBinary, []byte{1, 2, 3}); err != nil {
		t.Fatalf("write: %v", err)
	}

	msgType, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msgType != websocket.MessageText {
		t.Errorf("message type = %v, want text", msgType)
	}

	var ev stream.InjectionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != stream.EventTypeContextInjection {
		t.Errorf("type = %q, want %q", ev.Type, stream.EventTypeContextInjection)
	}
	if !strings.HasPrefix(ev.Payload, "<context>") || !strings.HasSuffix(ev.Payload, "</context>") {
		t.Errorf("payload not wrapped in context tags: %q", ev.Payload)
	}
}

func TestAudioSession_ClosePropagatesToPipeline(t *testing.T) {
	ts, sess := newTestServer(t, false)
	conn := dialAudio(t, ts)

	conn.Close(websocket.StatusNormalClosure, "done")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sess.mu.Lock()
		closed := sess.closed
		sess.mu.Unlock()
		if closed {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("pipeline was not closed after client disconnect")
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	srv, err := server.New(server.Config{
		ListenAddr: "127.0.0.1:0",
		NewSession: func(string, stream.Sender) (server.Session, error) {
			return &fakeSession{}, nil
		},
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
