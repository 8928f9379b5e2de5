package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Anurag-006/SketchSaga/internal/protocol"
	"github.com/Anurag-006/SketchSaga/internal/reconciler"
)

var (
	ErrClosed         = errors.New("client closed")
	ErrAlreadyEntered = errors.New("client already entered a room")
	ErrNotEntered     = errors.New("client has not entered a room")
	ErrSendQueueFull  = errors.New("send queue full")
)

// Config 클라이언트 설정
type Config struct {
	BaseURL          string // http://host:port
	Token            string
	GuestID          string
	TickInterval     time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	SendQueueSize    int
	FrameQueueSize   int
}

func (c *Config) defaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 16 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.FrameQueueSize <= 0 {
		c.FrameQueueSize = 256
	}
}

type op struct {
	fn   func(*reconciler.Reconciler)
	done chan struct{}
}

// Client 드로잉 WebSocket 클라이언트.
// 한 루프 고루틴이 Reconciler를 소유하고 수신 프레임, 렌더 틱, 로컬 작업을 차례로 처리한다.
type Client struct {
	cfg    Config
	conn   *websocket.Conn
	userID string
	log    *logrus.Entry

	frames chan []byte
	send   chan []byte
	ops    chan op

	mu      sync.Mutex
	entered bool
	closed  bool

	done     chan struct{}
	loopDone chan struct{}
	wg       sync.WaitGroup
}

// Dial 서버에 연결하고 identity 프레임을 받을 때까지 기다린다
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg.defaults()

	endpoint, err := wsURL(cfg)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	header := http.Header{}
	header.Set("Accept", "application/json")
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	userID, err := readIdentity(ctx, conn, cfg.HandshakeTimeout)
	if err != nil {
		conn.Close()
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		conn:     conn,
		userID:   userID,
		log:      logrus.WithFields(logrus.Fields{"component": "client", "user": userID}),
		frames:   make(chan []byte, cfg.FrameQueueSize),
		send:     make(chan []byte, cfg.SendQueueSize),
		ops:      make(chan op),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()

	c.log.Debug("websocket connected")
	return c, nil
}

func wsURL(cfg Config) (string, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"

	q := u.Query()
	if cfg.GuestID != "" {
		q.Set("guestId", cfg.GuestID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func readIdentity(ctx context.Context, conn *websocket.Conn, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("read identity: %w", err)
	}
	env, err := protocol.Decode(raw)
	if err != nil {
		return "", fmt.Errorf("read identity: %w", err)
	}
	if env.Type != protocol.TypeIdentity {
		return "", fmt.Errorf("%w: expected identity, got %s", protocol.ErrMalformed, env.Type)
	}
	var d protocol.IdentityData
	if err := env.Payload(&d); err != nil {
		return "", err
	}
	return d.UserID, nil
}

// UserID 서버가 부여한 식별자
func (c *Client) UserID() string { return c.userID }

// Enter 도형 기록을 받은 뒤에 join-room을 보내고 루프를 시작한다
func (c *Client) Enter(ctx context.Context, roomID protocol.RoomKey, opts reconciler.Options) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.entered:
		c.mu.Unlock()
		return ErrAlreadyEntered
	}
	c.entered = true
	c.mu.Unlock()

	shapes, err := FetchShapes(ctx, c.cfg.BaseURL, roomID)
	if err != nil {
		c.mu.Lock()
		c.entered = false
		c.mu.Unlock()
		return err
	}

	rec := reconciler.New(c.userID, roomID, c, opts)
	rec.LoadHistory(shapes)

	c.wg.Add(1)
	go c.loop(rec)

	if err := c.Send(protocol.TypeJoinRoom, protocol.JoinData{RoomID: roomID}); err != nil {
		return fmt.Errorf("join %s: %w", roomID, err)
	}
	c.log.WithFields(logrus.Fields{"room": roomID.String(), "shapes": len(shapes)}).Info("entered room")
	return nil
}

// Do fn을 루프 고루틴에서 실행하고 끝날 때까지 기다린다
func (c *Client) Do(ctx context.Context, fn func(r *reconciler.Reconciler)) error {
	c.mu.Lock()
	entered := c.entered
	c.mu.Unlock()
	if !entered {
		return ErrNotEntered
	}

	o := op{fn: fn, done: make(chan struct{})}
	select {
	case c.ops <- o:
	case <-c.loopDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-o.done:
		return nil
	case <-c.loopDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Chat 채팅 전송
func (c *Client) Chat(ctx context.Context, message string) error {
	var sendErr error
	err := c.Do(ctx, func(r *reconciler.Reconciler) {
		sendErr = c.Send(protocol.TypeChat, protocol.ChatData{RoomID: r.Room(), Message: message})
	})
	if err != nil {
		return err
	}
	return sendErr
}

// Send reconciler.Sender 구현. 송신 큐에 넣기만 한다.
func (c *Client) Send(t protocol.Type, data any) error {
	payload, err := protocol.Encode(t, data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *Client) loop(rec *reconciler.Reconciler) {
	defer c.wg.Done()
	defer close(c.loopDone)

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case raw, ok := <-c.frames:
			if !ok {
				return
			}
			env, err := protocol.Decode(raw)
			if err != nil {
				c.log.WithError(err).Debug("dropping frame")
				continue
			}
			if err := rec.HandleEnvelope(env); err != nil {
				c.log.WithError(err).WithField("type", env.Type).Debug("frame not applied")
			}
		case <-ticker.C:
			rec.Tick()
		case o := <-c.ops:
			o.fn(rec)
			close(o.done)
		}
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.frames)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.WithError(err).Warn("websocket read failed")
			}
			return
		}
		// 루프가 밀리면 소켓 읽기를 멈춰 서버 쪽으로 압력을 넘긴다
		select {
		case c.frames <- raw:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.WithError(err).Warn("websocket write failed")
				return
			}
		}
	}
}

// Close 연결 종료. 여러 번 호출해도 안전하다.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	err := c.conn.Close()
	c.wg.Wait()
	return err
}
