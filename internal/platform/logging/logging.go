package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
)

type Options struct {
	Env       string
	Level     string
	SentryDSN string
	Release   string
	// Out defaults to stdout.
	Out io.Writer
}

// New builds the process logger. The returned flush function drains any
// pending Sentry events and should be deferred by the caller.
func New(opts Options) (zerolog.Logger, func(), error) {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if opts.Env == "development" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return zerolog.Nop(), func() {}, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Str("service", "careline").Logger()
	if opts.SentryDSN == "" {
		return logger, func() {}, nil
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         opts.SentryDSN,
		Environment: opts.Env,
		Release:     opts.Release,
	})
	if err != nil {
		return logger, func() {}, fmt.Errorf("init sentry: %w", err)
	}
	hub := sentry.NewHub(client, sentry.NewScope())
	flush := func() { hub.Flush(2 * time.Second) }
	return logger.Hook(NewSentryHook(hub)), flush, nil
}

// SentryHook forwards error-level and above events to Sentry.
type SentryHook struct {
	hub *sentry.Hub
}

func NewSentryHook(hub *sentry.Hub) SentryHook {
	return SentryHook{hub: hub}
}

func (h SentryHook) Run(_ *zerolog.Event, level zerolog.Level, msg string) {
	if level < zerolog.ErrorLevel || level == zerolog.NoLevel || level == zerolog.Disabled {
		return
	}
	h.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentryLevel(level))
		h.hub.CaptureMessage(msg)
	})
}

func sentryLevel(level zerolog.Level) sentry.Level {
	switch level {
	case zerolog.FatalLevel, zerolog.PanicLevel:
		return sentry.LevelFatal
	default:
		return sentry.LevelError
	}
}
