// Package ingest connects to a call-audio feed over WebSocket and hands
// finished calls to the rest of the service.
//
// The feed delivers one JSON message per completed radio transmission with
// the PCM audio base64-encoded inline. Radio calls are short (seconds) and
// arrive whole, so there is no streaming protocol here: connect, subscribe
// to the wanted talkgroups, and read call messages until the connection
// drops. The client reconnects with capped exponential backoff; calls
// broadcast while disconnected are gone, which is acceptable for a
// monitoring service.
package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/dispatchmap/dispatchmap/pkg/provider/stt"
)

const (
	defaultSampleRate = 16000
	initialBackoff    = time.Second
	maxBackoff        = 30 * time.Second
)

// Call is one complete radio transmission delivered by the feed.
type Call struct {
	// ID is assigned locally on receipt and identifies the call through
	// the pipeline and the archive.
	ID uuid.UUID

	// Talkgroup is the radio channel the call was broadcast on.
	Talkgroup string

	// Audio is the decoded PCM payload.
	Audio stt.Audio

	// ReceivedAt is when the message arrived.
	ReceivedAt time.Time
}

// Handler consumes calls as they arrive. It is invoked sequentially from
// the read loop; spawn a goroutine for slow work so reads keep up with the
// feed.
type Handler func(ctx context.Context, call Call)

// subscribeMessage is sent once per connection to select talkgroups.
type subscribeMessage struct {
	Type       string   `json:"type"`
	Talkgroups []string `json:"talkgroups,omitempty"`
}

// feedMessage is the wire form of one feed event.
type feedMessage struct {
	Type       string `json:"type"`
	Talkgroup  string `json:"talkgroup"`
	Audio      string `json:"audio"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithSampleRate sets the sample rate assumed for messages that omit one.
// Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(c *Client) {
		if rate > 0 {
			c.sampleRate = rate
		}
	}
}

// Client maintains the feed connection and dispatches calls to a Handler.
type Client struct {
	url        string
	apiKey     string
	talkgroups []string
	sampleRate int
	handler    Handler
	logger     *slog.Logger
}

// New creates a feed client. url is the feed's WebSocket endpoint;
// talkgroups limits the subscription, empty meaning all channels.
func New(url, apiKey string, talkgroups []string, handler Handler, opts ...Option) *Client {
	c := &Client{
		url:        url,
		apiKey:     apiKey,
		talkgroups: talkgroups,
		sampleRate: defaultSampleRate,
		handler:    handler,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run connects to the feed and dispatches calls until ctx is cancelled.
// Connection failures are retried with capped exponential backoff; the
// backoff resets after every successful session.
func (c *Client) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn("feed connection lost, reconnecting",
			"url", c.url, "backoff", backoff, "error", err)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// session holds one connection open: dial, subscribe, then read until the
// connection drops or ctx is cancelled.
func (c *Client) session(ctx context.Context) error {
	headers := http.Header{}
	if c.apiKey != "" {
		headers.Set("Authorization", "Token "+c.apiKey)
	}

	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "client shutdown")

	sub, err := json.Marshal(subscribeMessage{Type: "subscribe", Talkgroups: c.talkgroups})
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, sub); err != nil {
		return err
	}

	c.logger.Info("feed connected", "url", c.url, "talkgroups", len(c.talkgroups))

	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		call, ok := c.parseCall(msg)
		if !ok {
			continue
		}
		c.handler(ctx, call)
	}
}

// parseCall decodes one feed message into a Call. Non-call messages
// (keepalives, subscription acks) and undecodable payloads are skipped.
func (c *Client) parseCall(data []byte) (Call, bool) {
	var msg feedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Debug("feed: dropping unparseable message", "error", err)
		return Call{}, false
	}
	if msg.Type != "call" {
		return Call{}, false
	}

	pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil {
		c.logger.Warn("feed: dropping call with undecodable audio",
			"talkgroup", msg.Talkgroup, "error", err)
		return Call{}, false
	}
	if len(pcm) == 0 {
		return Call{}, false
	}

	sampleRate := msg.SampleRate
	if sampleRate <= 0 {
		sampleRate = c.sampleRate
	}
	channels := msg.Channels
	if channels <= 0 {
		channels = 1
	}

	return Call{
		ID:        uuid.New(),
		Talkgroup: msg.Talkgroup,
		Audio: stt.Audio{
			PCM:        pcm,
			SampleRate: sampleRate,
			Channels:   channels,
		},
		ReceivedAt: time.Now(),
	}, true
}
