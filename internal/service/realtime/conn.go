package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"scam-call-guard/internal/observability/logging"
	"scam-call-guard/internal/observability/metrics"
)

// Connection errors.
var (
	ErrConnectionFailed = errors.New("realtime connection failed")
	ErrConnectionClosed = errors.New("realtime connection closed")
	ErrSendTimeout      = errors.New("realtime send timed out")
)

// BetaHeader is the OpenAI-Beta header value for the realtime API.
const BetaHeader = "realtime=v1"

// Config holds connection settings.
type Config struct {
	URL    string
	APIKey string

	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	ConnectTimeout time.Duration

	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	CloseTimeout time.Duration

	OutboundBuffer int
	MaxMessageSize int64
}

// DefaultConfig returns connection defaults for the OpenAI realtime endpoint.
func DefaultConfig() Config {
	return Config{
		URL:            "wss://api.openai.com/v1/realtime?model=gpt-realtime",
		MaxRetries:     5,
		RetryBaseDelay: 2 * time.Second,
		RetryMaxDelay:  60 * time.Second,
		ConnectTimeout: 30 * time.Second,
		PingInterval:   20 * time.Second,
		PongTimeout:    20 * time.Second,
		WriteTimeout:   10 * time.Second,
		CloseTimeout:   2 * time.Second,
		OutboundBuffer: 16,
		MaxMessageSize: 16 * 1024 * 1024,
	}
}

// Dialer opens connections with bounded retries.
type Dialer struct {
	cfg     Config
	ws      *websocket.Dialer
	metrics *metrics.Metrics
	logger  zerolog.Logger

	// onBackoff, when set, observes each delay before it is slept.
	onBackoff func(time.Duration)
}

// NewDialer creates a Dialer for cfg.
func NewDialer(cfg Config) *Dialer {
	return &Dialer{
		cfg: cfg,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.ConnectTimeout,
		},
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("realtime"),
	}
}

// Connect dials the realtime endpoint, making at most MaxRetries attempts.
// Exhausting the attempts returns an error wrapping ErrConnectionFailed.
func (d *Dialer) Connect(ctx context.Context) (*Conn, error) {
	attempts := max(d.cfg.MaxRetries, 1)

	var (
		ws      *websocket.Conn
		attempt int
	)
	err := retry.Do(ctx, d.backoff(attempts), func(ctx context.Context) error {
		attempt++
		conn, err := d.dial(ctx)
		d.metrics.RecordConnectAttempt(err)
		if err != nil {
			d.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("maxAttempts", attempts).
				Msg("Realtime connection attempt failed")
			return retry.RetryableError(err)
		}
		ws = conn
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, ctxErr)
		}
		return nil, fmt.Errorf("%w after %d attempts: %v", ErrConnectionFailed, attempt, err)
	}

	d.logger.Info().Int("attempt", attempt).Msg("Realtime connection established")
	return newConn(ws, d.cfg, d.logger), nil
}

// backoff yields min(base*2^n, max) between attempts and stops after
// attempts-1 retries, so the last failure is never followed by a sleep.
func (d *Dialer) backoff(attempts int) retry.Backoff {
	base := d.cfg.RetryBaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	b := retry.NewExponential(base)
	if d.cfg.RetryMaxDelay > 0 {
		b = retry.WithCappedDuration(d.cfg.RetryMaxDelay, b)
	}
	b = retry.WithMaxRetries(uint64(attempts-1), b)

	return retry.BackoffFunc(func() (time.Duration, bool) {
		delay, stop := b.Next()
		if stop {
			return 0, true
		}
		d.logger.Debug().Dur("delay", delay).Msg("Retrying realtime connection")
		if d.onBackoff != nil {
			d.onBackoff(delay)
		}
		return delay, false
	})
}

func (d *Dialer) dial(ctx context.Context) (*websocket.Conn, error) {
	if d.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.ConnectTimeout)
		defer cancel()
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+d.cfg.APIKey)
	headers.Set("OpenAI-Beta", BetaHeader)

	ws, resp, err := d.ws.DialContext(ctx, d.cfg.URL, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	return ws, nil
}

type outbound struct {
	data   []byte
	result chan error
}

// Conn is one open realtime connection. A single writer goroutine owns all
// data frames and pings; Receive must be called from one goroutine at a time.
type Conn struct {
	ws     *websocket.Conn
	cfg    Config
	out    chan outbound
	done   chan struct{}
	logger zerolog.Logger

	closed    atomic.Bool
	closeOnce sync.Once

	causeMu sync.Mutex
	cause   error
}

func newConn(ws *websocket.Conn, cfg Config, logger zerolog.Logger) *Conn {
	c := &Conn{
		ws:     ws,
		cfg:    cfg,
		out:    make(chan outbound, max(cfg.OutboundBuffer, 1)),
		done:   make(chan struct{}),
		logger: logger,
	}

	if cfg.MaxMessageSize > 0 {
		ws.SetReadLimit(cfg.MaxMessageSize)
	}
	_ = c.extendReadDeadline()
	ws.SetPongHandler(func(string) error {
		return c.extendReadDeadline()
	})

	go c.writePump()
	return c
}

func (c *Conn) extendReadDeadline() error {
	if c.cfg.PingInterval <= 0 {
		return c.ws.SetReadDeadline(time.Time{})
	}
	return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PingInterval + c.cfg.PongTimeout))
}

func (c *Conn) writePump() {
	var tick <-chan time.Time
	if c.cfg.PingInterval > 0 {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			err := c.write(msg.data)
			if msg.result != nil {
				msg.result <- err
			}
			if err != nil {
				c.fail(fmt.Errorf("write: %w", err))
				return
			}
		case <-tick:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.fail(fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}

func (c *Conn) write(data []byte) error {
	if c.cfg.WriteTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
			return err
		}
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Send queues msg for writing, waiting up to timeout for room in the
// outbound buffer. It returns ErrSendTimeout if the buffer stays full and
// ErrConnectionClosed once the connection is gone.
func (c *Conn) Send(msg any, timeout time.Duration) error {
	return c.send(msg, timeout, false)
}

// SendSync is Send that also waits for the frame to be written to the socket.
func (c *Conn) SendSync(msg any, timeout time.Duration) error {
	return c.send(msg, timeout, true)
}

func (c *Conn) send(msg any, timeout time.Duration, wait bool) error {
	if c.closed.Load() {
		return c.closedErr()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	item := outbound{data: data}
	if wait {
		item.result = make(chan error, 1)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.out <- item:
	case <-c.done:
		return c.closedErr()
	case <-timer.C:
		return ErrSendTimeout
	}

	if !wait {
		return nil
	}

	select {
	case err := <-item.result:
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		}
		return nil
	case <-c.done:
		select {
		case err := <-item.result:
			if err == nil {
				return nil
			}
		default:
		}
		return c.closedErr()
	case <-timer.C:
		return ErrSendTimeout
	}
}

// Receive blocks for the next inbound message. Any read failure, including a
// missed pong or a local Close, is reported as ErrConnectionClosed.
func (c *Conn) Receive() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if !c.closed.Load() {
			c.fail(fmt.Errorf("read: %w", err))
		}
		return nil, c.closedErr()
	}
	_ = c.extendReadDeadline()
	return data, nil
}

// Err returns the reason the connection failed, if it failed on its own.
func (c *Conn) Err() error {
	c.causeMu.Lock()
	defer c.causeMu.Unlock()
	return c.cause
}

// Close sends a close frame and closes the socket. Errors are logged, never
// returned. Safe to call more than once and from any goroutine.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		deadline := time.Now().Add(c.cfg.CloseTimeout)
		if err := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.logger.Debug().Err(err).Msg("Failed to send close frame")
		}
		if err := c.ws.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Error closing realtime socket")
		}
		c.logger.Info().Msg("Realtime connection closed")
	})
}

func (c *Conn) fail(err error) {
	c.causeMu.Lock()
	if c.cause == nil {
		c.cause = err
	}
	c.causeMu.Unlock()

	var ce *websocket.CloseError
	if errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway) {
		c.logger.Info().Err(err).Msg("Realtime server closed the connection")
	} else {
		c.logger.Warn().Err(err).Msg("Realtime connection lost")
	}
	c.Close()
}

func (c *Conn) closedErr() error {
	if cause := c.Err(); cause != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, cause)
	}
	return ErrConnectionClosed
}
