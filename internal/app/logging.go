package app

import (
	"fmt"
	"io"
	stdslog "log/slog"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/docache/config"
	dlog "github.com/unkn0wn-root/docache/log"
	lrlog "github.com/unkn0wn-root/docache/log/logrus"
	slogadapter "github.com/unkn0wn-root/docache/log/slog"
	zaplog "github.com/unkn0wn-root/docache/log/zap"
)

// Logging bundles the process logger with the slog logger hooks report to.
type Logging struct {
	Logger dlog.Logger
	Slog   *stdslog.Logger
	sync   func() error
}

// Sync flushes buffered output; only zap buffers.
func (l Logging) Sync() error {
	if l.sync == nil {
		return nil
	}
	return l.sync()
}

// NewLogging builds the logger selected by cfg.Backend writing to w. zap
// ignores w and writes to stderr through its own sinks.
func NewLogging(cfg config.Log, w io.Writer) (Logging, error) {
	var lvl stdslog.Level
	if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
		return Logging{}, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	hookLog := stdslog.New(stdslog.NewJSONHandler(w, &stdslog.HandlerOptions{Level: lvl}))

	switch cfg.Backend {
	case "", "zap":
		zc := zap.NewProductionConfig()
		if cfg.Development {
			zc = zap.NewDevelopmentConfig()
		}
		al, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return Logging{}, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
		zc.Level = al
		zl, err := zc.Build()
		if err != nil {
			return Logging{}, err
		}
		return Logging{Logger: zaplog.ZapLogger{L: zl}, Slog: hookLog, sync: zl.Sync}, nil
	case "logrus":
		l := logrus.New()
		l.SetOutput(w)
		if !cfg.Development {
			l.SetFormatter(&logrus.JSONFormatter{})
		}
		ll, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return Logging{}, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
		l.SetLevel(ll)
		return Logging{Logger: lrlog.LogrusLogger{E: logrus.NewEntry(l)}, Slog: hookLog}, nil
	case "slog":
		return Logging{Logger: slogadapter.Logger{L: hookLog}, Slog: hookLog}, nil
	default:
		return Logging{}, fmt.Errorf("unknown log backend %q", cfg.Backend)
	}
}
