package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Anurag-006/SketchSaga/internal/room"
)

// HealthHandler 헬스체크 핸들러
type HealthHandler struct {
	db       *gorm.DB      // nil이면 DB_DRIVER=memory
	redis    *redis.Client // nil이면 Redis 미사용
	registry *room.Registry
}

// NewHealthHandler HealthHandler 생성
func NewHealthHandler(db *gorm.DB, rdb *redis.Client, registry *room.Registry) *HealthHandler {
	return &HealthHandler{db: db, redis: rdb, registry: registry}
}

// ComponentCheck 컴포넌트 상태
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse 헬스체크 응답
type HealthResponse struct {
	Status    string                    `json:"status"`
	Timestamp string                    `json:"timestamp"`
	Rooms     int                       `json:"rooms"`
	Checks    map[string]ComponentCheck `json:"checks"`
}

// Check 전체 상태 확인 (DB + Redis)
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Rooms:     h.registry.Rooms(),
		Checks:    make(map[string]ComponentCheck),
	}

	for name, check := range h.checks(c.UserContext()) {
		response.Checks[name] = check
		if check.Status == "unhealthy" {
			response.Status = "unhealthy"
		}
	}

	statusCode := fiber.StatusOK
	if response.Status == "unhealthy" {
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(response)
}

// Liveness K8s liveness probe용 (단순 체크)
func (h *HealthHandler) Liveness(c *fiber.Ctx) error {
	return c.SendString("OK")
}

// Readiness K8s readiness probe용 (DB + Redis 연결 체크)
func (h *HealthHandler) Readiness(c *fiber.Ctx) error {
	for _, check := range h.checks(c.UserContext()) {
		if check.Status == "unhealthy" {
			return c.Status(fiber.StatusServiceUnavailable).SendString("NOT READY")
		}
	}
	return c.SendString("READY")
}

func (h *HealthHandler) checks(ctx context.Context) map[string]ComponentCheck {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	checks := make(map[string]ComponentCheck, 2)

	// 1. Database 체크
	if h.db == nil {
		checks["database"] = ComponentCheck{Status: "not_configured"}
	} else {
		start := time.Now()
		sqlDB, err := h.db.DB()
		switch {
		case err != nil:
			checks["database"] = ComponentCheck{Status: "unhealthy", Error: "failed to get database connection"}
		case sqlDB.PingContext(ctx) != nil:
			checks["database"] = ComponentCheck{Status: "unhealthy", Error: "database ping failed"}
		default:
			checks["database"] = ComponentCheck{Status: "healthy", Latency: time.Since(start).String()}
		}
	}

	// 2. Redis 체크
	if h.redis == nil {
		checks["redis"] = ComponentCheck{Status: "not_configured"}
	} else {
		start := time.Now()
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = ComponentCheck{Status: "unhealthy", Error: "redis ping failed"}
		} else {
			checks["redis"] = ComponentCheck{Status: "healthy", Latency: time.Since(start).String()}
		}
	}

	return checks
}
