// Package remote is the client side of the share server: login, snapshot
// fetch, and an SSE subscriber that reconnects with exponential backoff and
// resumes from the last seen sequence number. Payloads stay raw JSON here;
// the dashboard decides what a snapshot means.
package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tfdeck/tfdeck/internal/logging"
)

// Sentinel errors callers branch on: ErrUnauthorized means the server wants
// a password, ErrNoSnapshot means it has nothing to show yet.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNoSnapshot   = errors.New("no snapshot published yet")
)

const (
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 15 * time.Second
)

// Client talks to one share server.
type Client struct {
	baseURL string
	http    *http.Client
	log     *logging.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxAttempts    int

	mu      sync.RWMutex
	token   string
	lastSeq uint64
}

// Option adjusts a Client.
type Option func(*Client)

// WithToken preloads a session token obtained from an earlier login.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient substitutes the transport. The client used for Subscribe
// must not carry an overall timeout or the stream dies with it.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBackoff sets the reconnect backoff range. The delay starts at
// initial, doubles per consecutive failure and never exceeds max.
func WithBackoff(initial, max time.Duration) Option {
	return func(c *Client) {
		if initial > 0 {
			c.initialBackoff = initial
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// WithMaxAttempts bounds consecutive failed connection attempts before the
// subscription gives up. Zero means retry until the context ends.
func WithMaxAttempts(n int) Option {
	return func(c *Client) { c.maxAttempts = n }
}

// WithLogger substitutes the logger.
func WithLogger(log *logging.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// NewClient builds a client for the server at baseURL, with or without the
// scheme-trailing slash.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		http:           &http.Client{},
		log:            logging.New(),
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "remote")
	return c
}

// Login exchanges the share password for a session token and keeps it for
// every later request.
func (c *Client) Login(ctx context.Context, password string) error {
	body, err := json.Marshal(map[string]string{"password": password})
	if err != nil {
		return fmt.Errorf("encode login request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed: %s", responseError(resp))
	}
	var res struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if res.Token == "" {
		return errors.New("login response carries no token")
	}

	c.mu.Lock()
	c.token = res.Token
	c.mu.Unlock()
	return nil
}

// Token returns the session token, empty when not logged in.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// State fetches the latest published snapshot.
func (c *Client) State(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/state", nil)
	if err != nil {
		return nil, fmt.Errorf("build state request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch state: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case http.StatusNotFound:
		return nil, ErrNoSnapshot
	default:
		return nil, fmt.Errorf("fetch state: %s", responseError(resp))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read state response: %w", err)
	}
	return data, nil
}

// LastSeq returns the highest event sequence number seen so far.
func (c *Client) LastSeq() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeq
}

// Subscribe opens the event stream and delivers events until ctx ends. Both
// channels close when the subscription is over; a value on the error channel
// means it ended for a reason other than the context or the server closing
// the stream. Dropped connections reconnect with exponential backoff,
// resuming after the last event already delivered.
func (c *Client) Subscribe(ctx context.Context) (<-chan Event, <-chan error) {
	events := make(chan Event, 100)
	errc := make(chan error, 1)
	go c.subscriptionLoop(ctx, events, errc)
	return events, errc
}

func (c *Client) subscriptionLoop(ctx context.Context, events chan<- Event, errc chan<- error) {
	defer close(events)
	defer close(errc)

	attempts := 0
	backoff := c.initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		connected := false
		err := c.streamOnce(ctx, events, &connected)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// The server ended the stream cleanly: the session is over.
			c.log.Info("event stream closed by server")
			return
		}
		if errors.Is(err, ErrUnauthorized) {
			errc <- err
			return
		}

		if connected {
			attempts = 0
			backoff = c.initialBackoff
		} else {
			attempts++
			if c.maxAttempts > 0 && attempts >= c.maxAttempts {
				errc <- fmt.Errorf("connect to %s: %w", c.baseURL, err)
				return
			}
		}

		c.log.Warn("event stream disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
			"last_seq", c.LastSeq())
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// streamOnce opens one connection to /api/events and pumps its frames.
// connected flips once the server has accepted the subscription, which is
// what separates backoff-counted connect failures from mid-stream drops.
func (c *Client) streamOnce(ctx context.Context, events chan<- Event, connected *bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/events", nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.authorize(req)
	if seq := c.LastSeq(); seq > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatUint(seq, 10))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return ErrUnauthorized
	default:
		return fmt.Errorf("stream rejected: %s", responseError(resp))
	}
	*connected = true

	return c.readStream(ctx, resp.Body, events)
}

// readStream parses SSE frames off the wire. Only data lines matter: the
// payload carries its own type and sequence, so id and event lines are
// redundant and comment keepalives are skipped by construction.
func (c *Client) readStream(ctx context.Context, body io.Reader, events chan<- Event) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			if after, ok := strings.CutPrefix(line, "data:"); ok {
				data = append(data, strings.TrimPrefix(after, " "))
			}
			continue
		}
		if len(data) == 0 {
			continue
		}
		ev, err := ParseEvent([]byte(strings.Join(data, "\n")))
		data = data[:0]
		if err != nil {
			// Skip the frame; the next snapshot supersedes it anyway.
			c.log.Warn("dropping undecodable stream frame", "error", err)
			continue
		}
		c.observe(ev.Seq)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case events <- ev:
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

func (c *Client) observe(seq uint64) {
	c.mu.Lock()
	if seq > c.lastSeq {
		c.lastSeq = seq
	}
	c.mu.Unlock()
}

func (c *Client) authorize(req *http.Request) {
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// responseError extracts the server's error message, falling back to the
// HTTP status line.
func responseError(resp *http.Response) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil && body.Error != "" {
		return body.Error
	}
	return resp.Status
}
