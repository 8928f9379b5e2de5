package server

import (
	"context"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/Anurag-006/SketchSaga/internal/auth"
	"github.com/Anurag-006/SketchSaga/internal/config"
	"github.com/Anurag-006/SketchSaga/internal/handler"
	"github.com/Anurag-006/SketchSaga/internal/room"
	"github.com/Anurag-006/SketchSaga/internal/store"
)

// Deps 서버가 사용하는 구성 요소
type Deps struct {
	DB        *gorm.DB
	Redis     *redis.Client
	Registry  *room.Registry
	Gateway   *store.Gateway
	Allocator *room.Allocator
	Verifier  auth.Verifier
	Router    *handler.Router
}

// Server Fiber 서버 래퍼
type Server struct {
	app           *fiber.App
	cfg           *config.Config
	verifier      auth.Verifier
	healthHandler *handler.HealthHandler
	roomHandler   *handler.RoomHandler
	wsHandler     *handler.WSHandler
	log           *logrus.Entry
}

// New 새 서버 인스턴스 생성
func New(cfg *config.Config, deps Deps) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "SketchSaga Realtime",
		ServerHeader:          "Fiber",
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		Prefork:               false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:        16384, // 16KB - 큰 헤더 허용
		WriteBufferSize:       16384,
		BodyLimit:             1 * 1024 * 1024,
		DisableStartupMessage: true,
	})

	return &Server{
		app:           app,
		cfg:           cfg,
		verifier:      deps.Verifier,
		healthHandler: handler.NewHealthHandler(deps.DB, deps.Redis, deps.Registry),
		roomHandler:   handler.NewRoomHandler(deps.Gateway, deps.Allocator),
		wsHandler:     handler.NewWSHandler(deps.Router, deps.Registry, deps.Verifier, cfg.WebSocket),
		log:           logrus.WithField("component", "server"),
	}
}

// App 내부 fiber.App (테스트용)
func (s *Server) App() *fiber.App {
	return s.app
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   s.cfg.Database.TimeZone,
		Output:     logrus.StandardLogger().Out,
	}))

	// CORS (와일드카드 origin에는 credentials를 허용할 수 없다)
	allowCredentials := s.cfg.CORS.AllowCredentials
	if allowCredentials && s.cfg.CORS.AllowOrigins == "*" {
		s.log.Warn("CORS_ALLOW_ORIGINS=* disables credentials")
		allowCredentials = false
	}
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     s.cfg.CORS.AllowHeaders,
		AllowMethods:     "GET, POST, OPTIONS",
		AllowCredentials: allowCredentials,
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 엔드포인트
	s.app.Get("/health", s.healthHandler.Liveness)
	s.app.Get("/health/ready", s.healthHandler.Readiness)
	s.app.Get("/health/status", s.healthHandler.Check)

	// Rate Limiter 설정 (방 생성 - 방 코드 고갈 방지)
	createLimiter := limiter.New(limiter.Config{
		Max:        10,              // 최대 10회
		Expiration: 1 * time.Minute, // 1분당
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() // IP 기반 제한
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"message": "too many requests, please try again later",
				"success": false,
			})
		},
	})

	optionalAuth := auth.OptionalAuthMiddleware(s.verifier)

	// Room 라우트
	s.app.Post("/room", createLimiter, optionalAuth, s.roomHandler.CreateRoom)
	s.app.Get("/room/:slug", optionalAuth, s.roomHandler.GetRoom)
	s.app.Get("/shapes/:roomId", s.roomHandler.GetShapes)
	s.app.Get("/chats/:roomId", optionalAuth, s.roomHandler.GetChats)

	// WebSocket 드로잉 엔드포인트 (?token=...&guestId=...)
	s.app.Get("/ws", s.wsHandler.Upgrade, s.wsHandler.Handler())
}

// Start 서버 시작 (SIGINT/SIGTERM 시 Graceful Shutdown)
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return s.Run(ctx, nil)
}

// Run ctx가 끝날 때까지 서버 실행. ln이 nil이면 설정된 포트로 listen한다.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if ln != nil {
			s.log.WithField("addr", ln.Addr().String()).Info("SketchSaga realtime server starting")
			return s.app.Listener(ln)
		}
		s.log.WithField("addr", s.cfg.Server.Port).Info("SketchSaga realtime server starting")
		s.log.Infof("WebSocket endpoint: ws://localhost%s/ws", s.cfg.Server.Port)
		return s.app.Listen(s.cfg.Server.Port)
	})

	g.Go(func() error {
		<-ctx.Done()
		s.log.Info("Shutting down server...")
		return s.app.ShutdownWithTimeout(s.cfg.Server.ShutdownTimeout)
	})

	return g.Wait()
}
