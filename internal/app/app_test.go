package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dispatchmap/dispatchmap/internal/config"
	"github.com/dispatchmap/dispatchmap/internal/discord"
	discordmock "github.com/dispatchmap/dispatchmap/internal/discord/mock"
	"github.com/dispatchmap/dispatchmap/internal/ingest"
	"github.com/dispatchmap/dispatchmap/pkg/provider/geocoder"
	geomock "github.com/dispatchmap/dispatchmap/pkg/provider/geocoder/mock"
	"github.com/dispatchmap/dispatchmap/pkg/provider/llm"
	llmmock "github.com/dispatchmap/dispatchmap/pkg/provider/llm/mock"
	"github.com/dispatchmap/dispatchmap/pkg/provider/stt"
	sttmock "github.com/dispatchmap/dispatchmap/pkg/provider/stt/mock"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Providers.LLM.Name = "openai"
	cfg.Providers.STT.Name = "deepgram"
	cfg.Providers.Geocoder.Primary.Name = "google_maps"
	cfg.Pipeline.TargetJurisdictions = []string{"Hartford County", "Tolland County"}
	cfg.Pipeline.DefaultState = "CT"
	cfg.Locales.Talkgroups = map[string]string{"tg-100": "Hartford County"}
	return cfg
}

func hartfordCandidate() geocoder.Candidate {
	return geocoder.Candidate{
		Latitude:         41.7658,
		Longitude:        -72.6734,
		FormattedAddress: "100 Main St, Hartford, CT 06106, USA",
		ResultType:       "street_address",
		Specificity:      geocoder.SpecificityStreet,
		County:           "Hartford County",
		State:            "Connecticut",
		Provider:         "google_maps",
	}
}

func newTestApp(t *testing.T, sttp stt.Provider, llmp llm.Provider, geo geocoder.Provider, opts ...Option) *App {
	t.Helper()
	a, err := New(context.Background(), testConfig(), &Providers{
		LLM:      llmp,
		STT:      sttp,
		Geocoder: geo,
	}, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func TestNewRequiresProviders(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), testConfig(), &Providers{
		Geocoder: &geomock.Provider{},
	})
	if err == nil || !strings.Contains(err.Error(), "llm provider") {
		t.Fatalf("New() without LLM error = %v, want llm provider error", err)
	}

	_, err = New(context.Background(), testConfig(), &Providers{
		LLM: &llmmock.Provider{},
	})
	if err == nil || !strings.Contains(err.Error(), "geocoder provider") {
		t.Fatalf("New() without geocoder error = %v, want geocoder provider error", err)
	}
}

func TestNewIngestRequiresSTT(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Ingest.Enabled = true
	cfg.Ingest.URL = "wss://feed.example.com/ws"

	_, err := New(context.Background(), cfg, &Providers{
		LLM:      &llmmock.Provider{},
		Geocoder: &geomock.Provider{},
	})
	if err == nil || !strings.Contains(err.Error(), "stt provider") {
		t.Fatalf("New() error = %v, want stt provider error", err)
	}
}

func TestHandleCallNotifiesOnResolution(t *testing.T) {
	t.Parallel()

	sttp := &sttmock.Provider{
		Result: &stt.Result{Text: "Engine 5 respond to 100 Main Street for smoke in the building"},
	}
	llmp := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "100 Main Street"},
	}
	geo := &geomock.Provider{Candidates: []geocoder.Candidate{hartfordCandidate()}}

	sender := &discordmock.ChannelSender{}
	notifier := discord.NewNotifier(sender, map[string]string{"tg-100": "chan-1"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	a := newTestApp(t, sttp, llmp, geo, WithNotifier(notifier))
	a.HandleCall(context.Background(), ingest.Call{
		ID:         uuid.New(),
		Talkgroup:  "tg-100",
		Audio:      stt.Audio{PCM: []byte{1, 2}, SampleRate: 16000, Channels: 1},
		ReceivedAt: time.Now(),
	})

	if len(sttp.TranscribeCalls) != 1 {
		t.Fatalf("Transcribe called %d times, want 1", len(sttp.TranscribeCalls))
	}
	if len(sender.Sent) != 1 {
		t.Fatalf("sent %d Discord messages, want 1", len(sender.Sent))
	}
	if sender.Sent[0].ChannelID != "chan-1" {
		t.Errorf("ChannelID = %q, want %q", sender.Sent[0].ChannelID, "chan-1")
	}
}

func TestHandleCallTranscriptionFailure(t *testing.T) {
	t.Parallel()

	sttp := &sttmock.Provider{Err: errors.New("upstream 503")}
	llmp := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "100 Main Street"},
	}
	geo := &geomock.Provider{}

	sender := &discordmock.ChannelSender{}
	notifier := discord.NewNotifier(sender, map[string]string{"tg-100": "chan-1"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	a := newTestApp(t, sttp, llmp, geo, WithNotifier(notifier))
	a.HandleCall(context.Background(), ingest.Call{
		ID:        uuid.New(),
		Talkgroup: "tg-100",
		Audio:     stt.Audio{PCM: []byte{1}, SampleRate: 16000, Channels: 1},
	})

	if len(llmp.CompleteCalls) != 0 {
		t.Errorf("extractor called %d times after STT failure, want 0", len(llmp.CompleteCalls))
	}
	if len(sender.Sent) != 0 {
		t.Errorf("sent %d Discord messages, want 0", len(sender.Sent))
	}
}

func TestDispatchCallDoesNotBlockFeedReads(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{}, 4)
	sttp := &sttmock.Provider{
		TranscribeFn: func(ctx context.Context, _ stt.Audio) (*stt.Result, error) {
			started <- struct{}{}
			select {
			case <-release:
			case <-ctx.Done():
			}
			return &stt.Result{}, nil
		},
	}
	llmp := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "No address found"},
	}

	cfg := testConfig()
	cfg.Ingest.Enabled = true
	cfg.Ingest.URL = "wss://feed.example.com/ws"
	cfg.Ingest.Workers = 2

	a, err := New(context.Background(), cfg, &Providers{
		LLM:      llmp,
		STT:      sttp,
		Geocoder: &geomock.Provider{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	call := func() ingest.Call {
		return ingest.Call{
			ID:        uuid.New(),
			Talkgroup: "tg-100",
			Audio:     stt.Audio{PCM: []byte{1}, SampleRate: 16000, Channels: 1},
		}
	}

	dispatched := make(chan struct{})
	go func() {
		a.dispatchCall(context.Background(), call())
		a.dispatchCall(context.Background(), call())
		close(dispatched)
	}()

	// Both dispatches must return while their handlers are still blocked.
	select {
	case <-dispatched:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch blocked while workers were free")
	}

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatalf("%d calls in flight, want 2", i)
		}
	}

	close(release)
	a.calls.Wait()
}

func TestApplyConfigSwapsTalkgroupHints(t *testing.T) {
	t.Parallel()

	llmp := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "100 Main Street"},
	}
	geo := &geomock.Provider{Candidates: []geocoder.Candidate{hartfordCandidate()}}
	a := newTestApp(t, &sttmock.Provider{}, llmp, geo)

	a.Pipeline().Process(context.Background(), "smoke reported at 100 Main Street", "tg-200")
	if n := len(geo.GeocodeCalls); n != 1 {
		t.Fatalf("geocoder called %d times, want 1", n)
	}
	if hint := geo.GeocodeCalls[0].Query.CountyHint; hint == "Tolland County" {
		t.Fatalf("CountyHint = %q before reload, want fallback", hint)
	}

	old := testConfig()
	updated := testConfig()
	updated.Locales.Talkgroups = map[string]string{"tg-200": "Tolland County"}
	a.ApplyConfig(old, updated)

	a.Pipeline().Process(context.Background(), "smoke reported at 100 Main Street", "tg-200")
	if n := len(geo.GeocodeCalls); n != 2 {
		t.Fatalf("geocoder called %d times after reload, want 2", n)
	}
	if hint := geo.GeocodeCalls[1].Query.CountyHint; hint != "Tolland County" {
		t.Errorf("CountyHint = %q after reload, want %q", hint, "Tolland County")
	}
}
