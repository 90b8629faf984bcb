// Package client subscribes to the push channel of a tasklock server and
// keeps the subscription alive across dropped connections.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/mirkobrombin/go-tasklock/v1/auth"
	tlerrors "github.com/mirkobrombin/go-tasklock/v1/errors"
	"github.com/mirkobrombin/go-tasklock/v1/notify"
)

const (
	DefaultRetryInterval = 3 * time.Second
	DefaultMaxAttempts   = 5
)

// Handler receives every message read from the push channel, greetings
// included. It runs on the reading goroutine.
type Handler func(notify.Message)

// Client is a push channel subscriber.
type Client struct {
	endpoint string
	token    string
	dialer   *websocket.Dialer
	interval time.Duration
	attempts uint64
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithRetry sets the pause between reconnection attempts and how many
// consecutive attempts are made before giving up.
func WithRetry(interval time.Duration, attempts uint64) Option {
	return func(c *Client) {
		c.interval = interval
		c.attempts = attempts
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New returns a Client for the websocket endpoint (for instance
// "ws://localhost:8080/ws") authenticating with token.
func New(endpoint, token string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		token:    token,
		dialer:   websocket.DefaultDialer,
		interval: DefaultRetryInterval,
		attempts: DefaultMaxAttempts,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run delivers messages to fn until ctx is cancelled, the server closes the
// channel normally, the credential is rejected or reconnection gives up.
// A rejected credential is reported as an error matching
// errors.ErrAuthInvalid and is never retried.
func (c *Client) Run(ctx context.Context, fn Handler) error {
	target, err := c.url()
	if err != nil {
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.interval), c.attempts), ctx)
	err = backoff.Retry(func() error {
		err := c.session(ctx, target, fn, b)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case errors.Is(err, tlerrors.ErrAuthInvalid):
			return backoff.Permanent(err)
		}
		c.logger.Warn("client: connection lost, reconnecting", "error", err)
		return err
	}, b)
	return err
}

func (c *Client) url() (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: %v", tlerrors.ErrInvalidInput, err)
	}
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// session runs one connection. A successful handshake resets the retry
// budget.
func (c *Client) session(ctx context.Context, target string, fn Handler, b backoff.BackOff) error {
	ws, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("%w: dial: %v", tlerrors.ErrTransport, err)
	}
	defer ws.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ws.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("%w: %v", tlerrors.ErrTransport, err)
		}
		var m notify.Message
		if err := json.Unmarshal(data, &m); err != nil {
			c.logger.Debug("client: dropping undecodable message", "error", err)
			continue
		}
		if m.Type == notify.Greeting {
			b.Reset()
		}
		if m.Type == notify.ErrorEvent {
			if err := rejected(m); err != nil {
				fn(m)
				return err
			}
		}
		fn(m)
	}
}

// rejected returns an ErrAuthInvalid error when m reports a refused
// credential.
func rejected(m notify.Message) error {
	var p notify.ErrorPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return nil
	}
	switch p.Code {
	case auth.CodeInvalid, auth.CodeRequired:
		return fmt.Errorf("%w: %s (%s)", tlerrors.ErrAuthInvalid, p.Message, p.Code)
	}
	return nil
}
