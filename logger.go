package docache

import dlog "github.com/unkn0wn-root/docache/log"

// Fields is a minimal structured field map for logs.
type Fields = dlog.Fields

// Logger is a tiny leveled logger. Adapters for zap, logrus and log/slog live
// under log/. If Logger is nil in Options, logging is disabled.
type Logger = dlog.Logger

type NopLogger = dlog.NopLogger
