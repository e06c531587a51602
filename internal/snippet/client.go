package snippet

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/rangectl/internal/observability"
)

type Config struct {
	ConnectTimeout     time.Duration
	HandshakeTimeout   time.Duration
	RPCTimeout         time.Duration
	MaxConnectAttempts int
	Backoff            BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     5 * time.Second,
		HandshakeTimeout:   3 * time.Second,
		RPCTimeout:         10 * time.Second,
		MaxConnectAttempts: 3,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = def.RPCTimeout
	}
	if c.MaxConnectAttempts == 0 {
		c.MaxConnectAttempts = def.MaxConnectAttempts
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}

// Client drives one device's snippet service. Calls are serialized: the
// snippet socket is strictly request/response and the harness runs each
// device from a single goroutine anyway.
type Client struct {
	device string
	addr   string
	cfg    Config
	log    zerolog.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	uid    int

	nextID atomic.Uint64
}

// Dial connects to the snippet socket and performs the knock handshake,
// retrying with jittered backoff up to MaxConnectAttempts.
func Dial(ctx context.Context, device, addr string, cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	c := &Client{
		device: device,
		addr:   addr,
		cfg:    cfg,
		log:    log.With().Str("device", device).Str("addr", addr).Logger(),
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var attempt int
	for {
		attempt++
		err := c.connect(ctx)
		if err == nil {
			return c, nil
		}
		c.log.Warn().Int("attempt", attempt).Err(err).Msg("snippet dial failed")
		if !c.shouldRetry(attempt) {
			return nil, err
		}
		if err := sleepBackoff(ctx, c.cfg.Backoff, attempt, rng); err != nil {
			return nil, err
		}
	}
}

func (c *Client) connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return err
	}
	reader := bufio.NewReader(conn)

	_ = conn.SetDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	if err := WriteEnvelope(conn, KnockRequest{Cmd: KnockCmdInitiate, UID: KnockUID}); err != nil {
		_ = conn.Close()
		return err
	}
	var knock KnockResponse
	if err := ReadEnvelope(reader, &knock); err != nil {
		_ = conn.Close()
		return err
	}
	if !knock.Status {
		_ = conn.Close()
		return ErrKnockRejected
	}
	_ = conn.SetDeadline(time.Time{})

	c.mu.Lock()
	c.conn = conn
	c.reader = reader
	c.uid = knock.UID
	c.mu.Unlock()
	return nil
}

func (c *Client) shouldRetry(attempt int) bool {
	if c.cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < c.cfg.MaxConnectAttempts
}

func sleepBackoff(ctx context.Context, cfg BackoffConfig, attempt int, rng *rand.Rand) error {
	timer := time.NewTimer(nextBackoffDelay(cfg, attempt, rng))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) Device() string {
	return c.device
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

// Call issues a synchronous RPC and decodes its result into result when
// result is non-nil.
func (c *Client) Call(method string, result any, params ...any) error {
	_, err := c.roundTrip(method, result, 0, params)
	return err
}

// CallAsync issues an RPC whose response allocates a device-side event
// cache, and returns the handler bound to it.
func (c *Client) CallAsync(method string, params ...any) (*CallbackHandler, error) {
	resp, err := c.roundTrip(method, nil, 0, params)
	if err != nil {
		return nil, err
	}
	if resp.Callback == nil || *resp.Callback == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoCallback, method)
	}
	return &CallbackHandler{client: c, id: *resp.Callback}, nil
}

// roundTrip writes one request and blocks for its response. extraBudget
// widens the read deadline for RPCs that legitimately park on the device
// (event waits), so the socket deadline never fires before the device-side
// timeout does.
func (c *Client) roundTrip(method string, result any, extraBudget time.Duration, params []any) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return Response{}, ErrClientClosed
	}

	if params == nil {
		params = []any{}
	}
	req := Request{ID: c.nextID.Add(1), Method: method, Params: params}

	start := time.Now()
	resp, err := c.exchange(req, extraBudget)
	observability.RecordSnippetRequest(c.device, method, time.Since(start), err == nil)
	if err != nil {
		return Response{}, err
	}

	if result != nil && len(resp.Result) > 0 && string(resp.Result) != "null" {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return Response{}, fmt.Errorf("%w: decode %s result: %v", ErrInvalidResponse, method, err)
		}
	}
	return resp, nil
}

func (c *Client) exchange(req Request, extraBudget time.Duration) (Response, error) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.RPCTimeout))
	if err := WriteEnvelope(c.conn, req); err != nil {
		return Response{}, err
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.RPCTimeout + extraBudget))
	var resp Response
	if err := ReadEnvelope(c.reader, &resp); err != nil {
		return Response{}, err
	}
	if resp.ID != req.ID {
		return Response{}, fmt.Errorf("%w: request id %d, response id %d", ErrInvalidResponse, req.ID, resp.ID)
	}
	if resp.Error != nil && *resp.Error != "" {
		return Response{}, mapRPCError(req.Method, *resp.Error)
	}
	return resp, nil
}
