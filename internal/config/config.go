package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var ErrMissingJWTSecret = errors.New("JWT_SECRET is required")

// Config 애플리케이션 전체 설정
type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
	Auth      AuthConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Room      RoomConfig
	Fanout    FanoutConfig
	Persist   PersistConfig
	Log       LogConfig
}

// ServerConfig HTTP 서버 설정
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// WebSocketConfig WebSocket 관련 설정
type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	WriteTimeout    time.Duration
	PongWait        time.Duration
	MaxMessageSize  int64
	SendQueueSize   int
}

// CORSConfig CORS 설정
type CORSConfig struct {
	AllowOrigins     string
	AllowHeaders     string
	AllowCredentials bool
}

// AuthConfig 인증 설정 (토큰 검증만 담당)
type AuthConfig struct {
	JWTSecret string
}

// DatabaseConfig PostgreSQL 설정
type DatabaseConfig struct {
	Driver   string // postgres | memory
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	TimeZone string
}

// RedisConfig Redis 설정
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RoomConfig 방 생성 및 임시 방 TTL 설정
type RoomConfig struct {
	EphemeralTTL time.Duration
	CodeAttempts int
	ChatLimit    int
}

// FanoutConfig 프로세스 간 브로드캐스트 설정
type FanoutConfig struct {
	Driver    string // redis | memory
	QueueSize int
}

// PersistConfig 저장 워커 설정
type PersistConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// LogConfig 로깅 설정
type LogConfig struct {
	Level  string
	Format string // text | json
}

// Load 환경 변수에서 설정 로드
func Load() (*Config, error) {
	// .env 파일 로드 (없어도 에러 무시)
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, ErrMissingJWTSecret
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", ":8080"),
			ReadTimeout:     getDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getDuration("IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getInt("WS_READ_BUFFER_SIZE", 4096),
			WriteBufferSize: getInt("WS_WRITE_BUFFER_SIZE", 4096),
			WriteTimeout:    getDuration("WS_WRITE_TIMEOUT", 10*time.Second),
			PongWait:        getDuration("WS_PONG_WAIT", 60*time.Second),
			MaxMessageSize:  int64(getInt("WS_MAX_MESSAGE_SIZE", 512*1024)),
			SendQueueSize:   getInt("WS_SEND_QUEUE_SIZE", 256),
		},
		CORS: CORSConfig{
			AllowOrigins:     getEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000"),
			AllowHeaders:     getEnv("CORS_ALLOW_HEADERS", "Origin, Content-Type, Accept, Authorization"),
			AllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", true),
		},
		Auth: AuthConfig{
			JWTSecret: jwtSecret,
		},
		Database: databaseFromEnv(),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
		Room: RoomConfig{
			EphemeralTTL: getDuration("EPHEMERAL_TTL", time.Hour),
			CodeAttempts: getInt("ROOM_CODE_ATTEMPTS", 5),
			ChatLimit:    getInt("CHAT_HISTORY_LIMIT", 50),
		},
		Fanout: FanoutConfig{
			Driver:    strings.ToLower(getEnv("FANOUT_DRIVER", "redis")),
			QueueSize: getInt("FANOUT_QUEUE_SIZE", 1024),
		},
		Persist: PersistConfig{
			Workers:   getInt("PERSIST_WORKERS", 8),
			QueueSize: getInt("PERSIST_QUEUE_SIZE", 256),
			Timeout:   getDuration("PERSIST_TIMEOUT", 5*time.Second),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		},
	}

	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL %q, using info", cfg.Log.Level)
		cfg.Log.Level = "info"
	}
	if cfg.Fanout.Driver != "redis" && cfg.Fanout.Driver != "memory" {
		logrus.Warnf("Unknown FANOUT_DRIVER %q, using redis", cfg.Fanout.Driver)
		cfg.Fanout.Driver = "redis"
	}

	return cfg, nil
}

// LoadDatabase DB 설정만 로드 (JWT_SECRET 불필요, 점검 도구용)
func LoadDatabase() DatabaseConfig {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}
	return databaseFromEnv()
}

func databaseFromEnv() DatabaseConfig {
	cfg := DatabaseConfig{
		Driver:   strings.ToLower(getEnv("DB_DRIVER", "postgres")),
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", ""),
		DBName:   getEnv("DB_NAME", "sketchsaga"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
		TimeZone: getEnv("DB_TIMEZONE", "UTC"),
	}
	if cfg.Driver != "postgres" && cfg.Driver != "memory" {
		logrus.Warnf("Unknown DB_DRIVER %q, using postgres", cfg.Driver)
		cfg.Driver = "postgres"
	}
	return cfg
}

// getEnv 환경 변수 조회 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt 정수형 환경 변수 조회
func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getBool 불리언 환경 변수 조회
func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getDuration 시간 환경 변수 조회
func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		// 숫자만 있으면 초로 간주
		if !strings.ContainsAny(value, "smh") {
			if secs, err := strconv.Atoi(value); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
