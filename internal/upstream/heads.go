package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"schemawatch/internal/jsonrpc"
)

const (
	DefaultReconnectInterval = 3 * time.Second
	defaultReadTimeout       = 60 * time.Second
	handshakeTimeout         = 10 * time.Second
)

// HeadsConfig configures a HeadsClient
type HeadsConfig struct {
	WSURL             string
	ReconnectInterval time.Duration
	// ReadTimeout closes a silent connection so it can be re-established
	ReadTimeout time.Duration
	OnBlock     func(number uint64)
	Status      *Status
	Logger      zerolog.Logger
}

// HeadsClient follows new block headers over a WebSocket eth_subscribe("newHeads")
// and reports every higher block number to OnBlock. Lost connections are redialed
// every ReconnectInterval until Stop.
type HeadsClient struct {
	cfg    HeadsConfig
	logger zerolog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
	mu      sync.Mutex
}

// NewHeadsClient creates a heads client; Start connects it
func NewHeadsClient(cfg HeadsConfig) *HeadsClient {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.Status == nil {
		cfg.Status = NewStatus()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &HeadsClient{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "heads").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start dials and subscribes once; afterwards the client keeps itself connected
func (c *HeadsClient) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.stopped {
		return nil
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	c.started = true

	c.wg.Add(1)
	go c.run(conn)
	return nil
}

// Stop closes the connection and waits for the reader to exit; it is idempotent
func (c *HeadsClient) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	c.cancel()
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	c.wg.Wait()
	c.logger.Info().Msg("heads client stopped")
}

// connect dials and sends the newHeads subscription
func (c *HeadsClient) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.WSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect WebSocket: %w", err)
	}

	req, err := jsonrpc.NewRequest(jsonrpc.MethodSubscribe, []string{jsonrpc.SubscriptionNewHeads}, jsonrpc.NewIDInt(1))
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to newHeads: %w", err)
	}

	c.connMu.Lock()
	if err := c.ctx.Err(); err != nil {
		c.connMu.Unlock()
		conn.Close()
		return nil, err
	}
	c.conn = conn
	c.connMu.Unlock()

	c.logger.Info().Str("url", c.cfg.WSURL).Msg("subscribed to newHeads")
	return conn, nil
}

func (c *HeadsClient) run(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		err := c.readLoop(conn)
		select {
		case <-c.ctx.Done():
			return
		default:
		}
		c.logger.Warn().Err(err).Msg("WebSocket connection lost, reconnecting")
		c.cfg.Status.SetHealthy(false)

		conn = c.reconnect()
		if conn == nil {
			return
		}
	}
}

// reconnect redials until it succeeds or the client is stopped
func (c *HeadsClient) reconnect() *websocket.Conn {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	for {
		select {
		case <-c.ctx.Done():
			return nil
		case <-time.After(c.cfg.ReconnectInterval):
		}

		ctx, cancel := context.WithTimeout(c.ctx, handshakeTimeout)
		conn, err := c.connect(ctx)
		cancel()
		if err != nil {
			c.logger.Warn().Err(err).Dur("nextRetry", c.cfg.ReconnectInterval).Msg("WebSocket reconnection failed, will retry")
			continue
		}
		return conn
	}
}

func (c *HeadsClient) readLoop(conn *websocket.Conn) error {
	for {
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(data)
	}
}

func (c *HeadsClient) dispatch(data []byte) {
	var msg struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
		Result json.RawMessage `json:"result"`
		Error  *jsonrpc.Error  `json:"error"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Debug().Err(err).Msg("ignoring malformed message")
		return
	}

	if msg.Method == "" {
		if msg.Error != nil {
			c.logger.Error().Err(msg.Error).Msg("newHeads subscription rejected")
			return
		}
		c.logger.Debug().Str("subscription", string(msg.Result)).Msg("newHeads subscription confirmed")
		return
	}

	var params jsonrpc.NotificationParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		c.logger.Debug().Err(err).Msg("ignoring malformed notification")
		return
	}
	var header jsonrpc.BlockHeader
	if err := json.Unmarshal(params.Result, &header); err != nil {
		c.logger.Debug().Err(err).Msg("ignoring malformed block header")
		return
	}
	number, err := header.BlockNumber()
	if err != nil {
		c.logger.Debug().Err(err).Msg("ignoring block header")
		return
	}

	c.cfg.Status.SetHealthy(true)
	if !c.cfg.Status.UpdateBlock(number) {
		return
	}
	c.logger.Debug().Uint64("block", number).Msg("new head")
	if c.cfg.OnBlock != nil {
		c.cfg.OnBlock(number)
	}
}
