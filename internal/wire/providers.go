package wire

import (
	"io"
	"log/slog"
	"os"

	"github.com/google/wire"

	"github.com/formpulse/formpulse/internal/app"
	"github.com/formpulse/formpulse/internal/config"
	"github.com/formpulse/formpulse/internal/logger"
)

// AppSet bundles the providers needed to build the application.
var AppSet = wire.NewSet(
	app.NewApp,
	config.LoadConfig,
	provideLoggerConfig,
	provideLogWriter,
	provideSlogLogger,
)

func provideLoggerConfig(cfg *config.Config) logger.Config {
	return cfg.LoggerConfig
}

func provideSlogLogger(loggerConfig logger.Config, writer io.Writer) *slog.Logger {
	return logger.NewLogger(loggerConfig, writer)
}

func provideLogWriter(cfg *config.Config) io.Writer {
	switch cfg.LoggerConfig.Output {
	case "stderr":
		return os.Stderr
	case "file":
		f, _ := os.OpenFile("formpulse.log", os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
		return f
	default:
		return os.Stdout
	}
}
