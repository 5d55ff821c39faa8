package observability

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Youmanvi/stockledger/internal/infrastructure/config"
)

type Logger struct {
	*zerolog.Logger
}

// NewLogger creates a new structured logger based on configuration
func NewLogger(cfg *config.ObservabilityConfig) *Logger {
	var output io.Writer = os.Stdout

	logLevel := parseLogLevel(cfg.LogLevel)
	zerolog.SetGlobalLevel(logLevel)

	if cfg.LogFormat == "text" {
		output = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	logger := zerolog.New(output).
		Level(logLevel).
		With().
		Timestamp().
		Logger()

	return &Logger{Logger: &logger}
}

// WithOrderID returns a new logger with the order ID attached
func (l *Logger) WithOrderID(orderID string) *Logger {
	logger := l.With().Str("order_id", orderID).Logger()
	return &Logger{Logger: &logger}
}

// WithProductID returns a new logger with the product ID attached
func (l *Logger) WithProductID(productID string) *Logger {
	logger := l.With().Str("product_id", productID).Logger()
	return &Logger{Logger: &logger}
}

// WithReservationID returns a new logger with the reservation ID attached
func (l *Logger) WithReservationID(reservationID string) *Logger {
	logger := l.With().Str("reservation_id", reservationID).Logger()
	return &Logger{Logger: &logger}
}

// WithError returns a new logger with error attached
func (l *Logger) WithError(err error) *Logger {
	logger := l.With().Err(err).Logger()
	return &Logger{Logger: &logger}
}

// parseLogLevel converts string to zerolog level
func parseLogLevel(levelStr string) zerolog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
