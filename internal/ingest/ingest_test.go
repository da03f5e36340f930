package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// feedServer is a minimal in-process feed: it accepts one websocket client,
// records the subscribe message, and replays scripted messages.
type feedServer struct {
	*httptest.Server

	mu        sync.Mutex
	subscribe subscribeMessage
	authed    string
}

func newFeedServer(t *testing.T, messages [][]byte) *feedServer {
	t.Helper()
	fs := &feedServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.authed = r.Header.Get("Authorization")
		fs.mu.Unlock()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("Accept() error = %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx := r.Context()
		_, sub, err := conn.Read(ctx)
		if err != nil {
			t.Errorf("Read(subscribe) error = %v", err)
			return
		}
		var msg subscribeMessage
		if err := json.Unmarshal(sub, &msg); err != nil {
			t.Errorf("Unmarshal(subscribe) error = %v", err)
			return
		}
		fs.mu.Lock()
		fs.subscribe = msg
		fs.mu.Unlock()

		for _, m := range messages {
			if err := conn.Write(ctx, websocket.MessageText, m); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		_, _, _ = conn.Read(ctx)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func callMessage(t *testing.T, talkgroup string, pcm []byte, sampleRate int) []byte {
	t.Helper()
	data, err := json.Marshal(feedMessage{
		Type:       "call",
		Talkgroup:  talkgroup,
		Audio:      base64.StdEncoding.EncodeToString(pcm),
		SampleRate: sampleRate,
	})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return data
}

func TestClientReceivesCalls(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	srv := newFeedServer(t, [][]byte{
		[]byte(`{"type":"keepalive"}`),
		callMessage(t, "tg-100", pcm, 8000),
		[]byte(`{"type":"call","talkgroup":"tg-100","audio":"%%%not-base64"}`),
		callMessage(t, "tg-200", pcm, 0),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan Call, 8)
	c := New(srv.URL, "feed-key", []string{"tg-100", "tg-200"}, func(ctx context.Context, call Call) {
		calls <- call
	}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	first := waitForCall(t, calls)
	if first.Talkgroup != "tg-100" {
		t.Errorf("Talkgroup = %q, want %q", first.Talkgroup, "tg-100")
	}
	if string(first.Audio.PCM) != string(pcm) {
		t.Errorf("PCM = %v, want %v", first.Audio.PCM, pcm)
	}
	if first.Audio.SampleRate != 8000 {
		t.Errorf("SampleRate = %d, want 8000", first.Audio.SampleRate)
	}
	if first.Audio.Channels != 1 {
		t.Errorf("Channels = %d, want 1", first.Audio.Channels)
	}
	if first.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("ID is the zero UUID, want assigned")
	}

	// The undecodable call must be skipped, so the next delivery is tg-200
	// with the configured default sample rate.
	second := waitForCall(t, calls)
	if second.Talkgroup != "tg-200" {
		t.Errorf("Talkgroup = %q, want %q", second.Talkgroup, "tg-200")
	}
	if second.Audio.SampleRate != defaultSampleRate {
		t.Errorf("SampleRate = %d, want default %d", second.Audio.SampleRate, defaultSampleRate)
	}
	if second.ID == first.ID {
		t.Error("call IDs must be unique per call")
	}

	srv.mu.Lock()
	sub, auth := srv.subscribe, srv.authed
	srv.mu.Unlock()
	if sub.Type != "subscribe" || len(sub.Talkgroups) != 2 {
		t.Errorf("subscribe message = %+v, want type subscribe with 2 talkgroups", sub)
	}
	if auth != "Token feed-key" {
		t.Errorf("Authorization = %q, want %q", auth, "Token feed-key")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
}

func TestClientReconnects(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	connections := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		connections++
		n := connections
		mu.Unlock()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		if n == 1 {
			// Drop the first connection immediately after the handshake.
			conn.Close(websocket.StatusGoingAway, "restart")
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		_, _, _ = conn.Read(r.Context())
		_, _, _ = conn.Read(r.Context())
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := New(srv.URL, "", nil, func(ctx context.Context, call Call) {},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.After(8 * time.Second)
	for {
		mu.Lock()
		n := connections
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("client did not reconnect")
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
}

func waitForCall(t *testing.T, calls <-chan Call) Call {
	t.Helper()
	select {
	case c := <-calls:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for call")
		return Call{}
	}
}
