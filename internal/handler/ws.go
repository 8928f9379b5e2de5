package handler

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/Anurag-006/SketchSaga/internal/auth"
	"github.com/Anurag-006/SketchSaga/internal/config"
	"github.com/Anurag-006/SketchSaga/internal/protocol"
	"github.com/Anurag-006/SketchSaga/internal/room"
	"github.com/Anurag-006/SketchSaga/internal/session"
)

// LocalIdentity 업그레이드 시 결정된 auth.Identity를 담는 Locals 키
const LocalIdentity = "identity"

// WSHandler 드로잉 WebSocket 핸들러
type WSHandler struct {
	router   *Router
	registry *room.Registry
	verifier auth.Verifier
	cfg      config.WebSocketConfig
	log      *logrus.Entry
}

// NewWSHandler WSHandler 생성
func NewWSHandler(router *Router, registry *room.Registry, verifier auth.Verifier, cfg config.WebSocketConfig) *WSHandler {
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &WSHandler{
		router:   router,
		registry: registry,
		verifier: verifier,
		cfg:      cfg,
		log:      logrus.WithField("component", "ws"),
	}
}

// Upgrade WebSocket 업그레이드 확인 후 식별자 결정.
// 토큰 검증 실패는 연결을 거부하지 않고 게스트로 강등한다.
func (h *WSHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	identity, err := auth.ResolveIdentity(h.verifier, auth.BearerToken(c), c.Query("guestId"))
	if err != nil {
		h.log.WithError(err).WithField("user", identity.UserID).Info("token rejected, continuing as guest")
	}
	c.Locals(LocalIdentity, identity)
	return c.Next()
}

// Handler fiber 라우트에 등록할 WebSocket 핸들러
func (h *WSHandler) Handler() fiber.Handler {
	return websocket.New(h.HandleWebSocket, websocket.Config{
		ReadBufferSize:  h.cfg.ReadBufferSize,
		WriteBufferSize: h.cfg.WriteBufferSize,
	})
}

// HandleWebSocket WebSocket 연결 처리
func (h *WSHandler) HandleWebSocket(c *websocket.Conn) {
	// 패닉 복구 - 서버 크래시 방지
	defer func() {
		if r := recover(); r != nil {
			h.log.Errorf("websocket panic recovered: %v", r)
		}
	}()

	identity, ok := c.Locals(LocalIdentity).(auth.Identity)
	if !ok || identity.UserID == "" {
		identity = auth.Guest("")
	}

	sess := session.New(identity, h.cfg.SendQueueSize)
	log := h.log.WithFields(logrus.Fields{"conn": sess.ID(), "user": identity.UserID})

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		h.writePump(c, sess)
	}()

	defer func() {
		h.registry.OnDisconnect(sess)
		sess.Close()
		<-pumpDone
		c.Close()
		log.WithField("duration", sess.Duration().Round(time.Millisecond)).Info("WebSocket disconnected")
	}()

	log.WithField("guest", identity.Guest).Info("WebSocket connected")

	if hello, err := protocol.Encode(protocol.TypeIdentity, protocol.IdentityData{
		UserID: identity.UserID,
		Guest:  identity.Guest,
	}); err == nil {
		sess.Send(hello)
	}

	if h.cfg.MaxMessageSize > 0 {
		c.SetReadLimit(h.cfg.MaxMessageSize)
	}
	_ = c.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		mt, msg, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.WithError(err).Warn("WebSocket read error")
			}
			return
		}
		_ = c.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		if mt != websocket.TextMessage {
			continue
		}
		h.router.Handle(sess.Context(), sess, msg)
	}
}

// writePump 송신 큐를 소켓에 쓰고 주기적으로 ping 전송
func (h *WSHandler) writePump(c *websocket.Conn, sess *session.Session) {
	ticker := time.NewTicker(h.cfg.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-sess.Outbound():
			_ = c.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.WithError(err).WithField("conn", sess.ID()).Debug("write failed")
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}
