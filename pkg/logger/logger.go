package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	once sync.Once
	base *zap.Logger
	sug  *zap.SugaredLogger
)

// Init builds the global zap logger. env is "production"/"prod" for the JSON
// production config, anything else gets the development config. The stdlib
// log output is redirected into zap so stray log.Printf calls are captured.
func Init(env string) (*zap.Logger, error) {
	var err error
	once.Do(func() {
		var cfg zap.Config
		if strings.EqualFold(env, "prod") || strings.EqualFold(env, "production") {
			cfg = zap.NewProductionConfig()
		} else {
			cfg = zap.NewDevelopmentConfig()
		}

		var l *zap.Logger
		l, err = cfg.Build()
		if err != nil {
			return
		}

		zap.ReplaceGlobals(l)
		_ = zap.RedirectStdLog(l)

		base = l
		sug = l.Sugar()
	})
	if err != nil {
		return nil, err
	}
	if base == nil {
		// A previous Init failed inside once; fall back to development.
		base, _ = zap.NewDevelopment()
		sug = base.Sugar()
	}
	return base, nil
}

// Base returns the global logger, initializing from LOG_ENV on first use.
func Base() *zap.Logger {
	if base == nil {
		_, _ = Init(os.Getenv("LOG_ENV"))
	}
	return base
}

// L returns the global sugared logger.
func L() *zap.SugaredLogger {
	Base()
	return sug
}

// Sync flushes buffered log entries. Safe to call on shutdown.
func Sync() {
	if base != nil {
		_ = base.Sync()
	}
}

// GORMWriter adapts the global logger to gorm's logger.Writer interface
// so slow-query and error output lands in the same sink.
type GORMWriter struct{}

// Printf implements gorm.io/gorm/logger.Writer.
func (GORMWriter) Printf(format string, v ...interface{}) {
	msg := strings.TrimRight(fmt.Sprintf(format, v...), "\r\n")
	Base().Warn(msg)
}
