package utils

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

// InitLogger configures the global logger. When file is non-empty, log lines
// additionally go to a size-rotated file.
func InitLogger(file string, maxSizeMB, maxBackups, maxAgeDays int, compress bool, level string) {
	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr}}
	if file != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   compress,
		})
	}

	logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	SetLogLevel(level)
}

// SetLogLevel changes the level of the global logger. Unknown levels fall
// back to info.
func SetLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	logger = logger.Level(lvl)
}

// SetLoggerForTest replaces the global logger so tests can capture output.
func SetLoggerForTest(l zerolog.Logger) {
	logger = l
}

// Debug logs at debug level with alternating key/value pairs.
func Debug(msg string, kv ...interface{}) {
	logger.Debug().Fields(kv).Msg(msg)
}

// Info logs at info level with alternating key/value pairs.
func Info(msg string, kv ...interface{}) {
	logger.Info().Fields(kv).Msg(msg)
}

// Warn logs at warn level with alternating key/value pairs.
func Warn(msg string, kv ...interface{}) {
	logger.Warn().Fields(kv).Msg(msg)
}

// Error logs at error level with alternating key/value pairs.
func Error(msg string, kv ...interface{}) {
	logger.Error().Fields(kv).Msg(msg)
}
