package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel orders messages by severity. SILENT disables output.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	SILENT
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "SILENT"}

// zapLevel maps a LogLevel onto zap. SILENT sits above every level zap emits.
func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case INFO:
		return zapcore.InfoLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel + 1
	}
}

// Logger is a leveled zap logger whose lines carry a [Module] tag.
type Logger struct {
	level LogLevel
	mu    sync.Mutex
	atom  zap.AtomicLevel
	sugar *zap.SugaredLogger
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init installs the package-level logger. Only the first call has effect.
func Init(level LogLevel, output io.Writer, useColor bool) {
	once.Do(func() {
		defaultLogger = New(level, output, useColor)
	})
}

// New creates a new Logger instance writing console-encoded lines to output.
func New(level LogLevel, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:          "ts",
		LevelKey:         "level",
		NameKey:          "module",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeTime:       zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05.000000"),
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeName:       bracketNameEncoder,
		ConsoleSeparator: " ",
	}
	if useColor {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	atom := zap.NewAtomicLevelAt(level.zapLevel())
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(output), atom)

	return &Logger{
		level: level,
		atom:  atom,
		sugar: zap.New(core).Sugar(),
	}
}

func bracketNameEncoder(name string, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + name + "]")
}

// SetLevel takes effect for lines logged after it returns.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	l.atom.SetLevel(level.zapLevel())
}

func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// Sync flushes buffered output.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

func (l *Logger) log(level LogLevel, module string, format string, args ...interface{}) {
	if !l.atom.Enabled(level.zapLevel()) {
		return
	}

	s := l.sugar
	if module != "" {
		s = s.Named(module)
	}

	switch level {
	case DEBUG:
		s.Debugf(format, args...)
	case INFO:
		s.Infof(format, args...)
	case WARN:
		s.Warnf(format, args...)
	case ERROR:
		s.Errorf(format, args...)
	}
}

// Debug, Info, Warn and Error format like fmt.Sprintf and tag the line with
// module.
func (l *Logger) Debug(module string, format string, args ...interface{}) {
	l.log(DEBUG, module, format, args...)
}

func (l *Logger) Info(module string, format string, args ...interface{}) {
	l.log(INFO, module, format, args...)
}

func (l *Logger) Warn(module string, format string, args ...interface{}) {
	l.log(WARN, module, format, args...)
}

func (l *Logger) Error(module string, format string, args ...interface{}) {
	l.log(ERROR, module, format, args...)
}

// Package-level helpers log through the logger installed by Init. Before
// Init they discard everything.

var nop = &Logger{level: SILENT, atom: zap.NewAtomicLevelAt(SILENT.zapLevel()), sugar: zap.NewNop().Sugar()}

func std() *Logger {
	if defaultLogger == nil {
		return nop
	}
	return defaultLogger
}

func SetLevel(level LogLevel) {
	if defaultLogger != nil {
		defaultLogger.SetLevel(level)
	}
}

// GetLevel reports INFO until Init runs.
func GetLevel() LogLevel {
	if defaultLogger == nil {
		return INFO
	}
	return defaultLogger.GetLevel()
}

func Sync() error { return std().Sync() }

func Debug(module string, format string, args ...interface{}) { std().Debug(module, format, args...) }
func Info(module string, format string, args ...interface{})  { std().Info(module, format, args...) }
func Warn(module string, format string, args ...interface{})  { std().Warn(module, format, args...) }
func Error(module string, format string, args ...interface{}) { std().Error(module, format, args...) }

var levelAliases = map[string]LogLevel{
	"debug":   DEBUG,
	"info":    INFO,
	"warn":    WARN,
	"warning": WARN,
	"error":   ERROR,
	"silent":  SILENT,
	"none":    SILENT,
}

// ParseLevel accepts level names in any case. Unknown names yield INFO and an error.
func ParseLevel(s string) (LogLevel, error) {
	if level, ok := levelAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return level, nil
	}
	return INFO, fmt.Errorf("invalid log level: %q", s)
}

func (l LogLevel) String() string {
	if l < DEBUG || l > SILENT {
		return "UNKNOWN"
	}
	return levelNames[l]
}
