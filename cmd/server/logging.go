package main

import (
	"io"
	"os"
	"time"

	"github.com/jrsteele09/aps-viewer-server/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// setupLogging configures the global logger: console output in DEV, JSON
// elsewhere, tee'd to a rotating file when LOG_FILE is set. The returned
// func closes the file.
func setupLogging(c config.EnvConfig) func() {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stdout
	if c.GetEnv() == "DEV" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.TimeOnly}
	}

	closeFn := func() {}
	if path := c.GetLogFile(); path != "" {
		file := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		out = io.MultiWriter(out, file)
		closeFn = func() { _ = file.Close() }
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return closeFn
}
