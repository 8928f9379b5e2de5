package logging

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/Anurag-006/SketchSaga/internal/config"
)

// Setup 전역 logrus 로거 설정 (레벨, 포맷)
func Setup(cfg config.LogConfig) {
	logrus.SetOutput(os.Stdout)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// Component 컴포넌트 이름이 붙은 로거 반환
func Component(name string) *logrus.Entry {
	return logrus.WithField("component", name)
}
