package logger

import (
	"io"
	"log/slog"

	"wallet_session/internal/app/port"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
)

// slogAdapter реализует интерфейс port.Logger.
// Без собственного логгера он пишет через глобальные функции пакета.
type slogAdapter struct {
	l *slog.Logger
}

// NewSlogAdapter создает адаптер поверх глобального логгера.
func NewSlogAdapter() port.Logger {
	return &slogAdapter{}
}

// NewAdapter wraps a specific slog logger.
func NewAdapter(l *slog.Logger) port.Logger {
	return &slogAdapter{l: l}
}

// FromZap routes port.Logger calls into a zap logger.
func FromZap(z *zap.Logger) port.Logger {
	return &slogAdapter{l: slog.New(zapslog.NewHandler(z.Core()))}
}

// NewNop returns a logger that discards everything. Used by tests.
func NewNop() port.Logger {
	return &slogAdapter{l: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// With returns an adapter whose entries carry args.
func With(base port.Logger, args ...any) port.Logger {
	if a, ok := base.(*slogAdapter); ok {
		if a.l == nil {
			ensureInitialized()
			return &slogAdapter{l: globalLogger.With(args...)}
		}
		return &slogAdapter{l: a.l.With(args...)}
	}
	return base
}

// Info логирует информационное сообщение.
func (a *slogAdapter) Info(msg string, args ...any) {
	if a.l != nil {
		a.l.Info(msg, args...)
		return
	}
	Info(msg, args...)
}

// Debug логирует отладочное сообщение.
func (a *slogAdapter) Debug(msg string, args ...any) {
	if a.l != nil {
		a.l.Debug(msg, args...)
		return
	}
	Debug(msg, args...)
}

// Warn логирует предупреждающее сообщение.
func (a *slogAdapter) Warn(msg string, args ...any) {
	if a.l != nil {
		a.l.Warn(msg, args...)
		return
	}
	Warn(msg, args...)
}

// Error логирует сообщение об ошибке.
func (a *slogAdapter) Error(msg string, args ...any) {
	if a.l != nil {
		a.l.Error(msg, args...)
		return
	}
	Error(msg, args...)
}
