package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// LogLevel represents an enumeration of diagnostic log levels
type LogLevel int

const (
	Error   LogLevel = 40
	Warning LogLevel = 30
	Info    LogLevel = 20
	Debug   LogLevel = 10
	NotSet  LogLevel = 0
)

// DiagLevelEnv selects the default level of every diagnostics logger.
const DiagLevelEnv = "LOGPIPE_DIAG_LEVEL"

var (
	outputMu      sync.RWMutex
	defaultOutput io.Writer = os.Stderr
)

// SetDefaultOutput redirects loggers created afterwards. Tests use it to
// capture diagnostics; the default is stderr so that pipeline diagnostics never
// interleave with the console sink on stdout.
func SetDefaultOutput(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	defaultOutput = w
}

func currentOutput() io.Writer {
	outputMu.RLock()
	defer outputMu.RUnlock()
	return defaultOutput
}

// ParseLogLevel converts a level name into a LogLevel. Unknown names yield Warning.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug
	case "info":
		return Info
	case "error":
		return Error
	default:
		return Warning
	}
}

func (l LogLevel) String() string {
	switch {
	case l >= Error:
		return "ERROR"
	case l >= Warning:
		return "WARN"
	case l >= Info:
		return "INFO"
	default:
		return "DEBUG"
	}
}

// Logger writes the pipeline's own diagnostics: a prefix, a level and
// key=value pairs on one line.
type Logger struct {
	prefix        string
	logger        *log.Logger
	logLevel      LogLevel
	logLevelMutex sync.Mutex
}

// NewLogger creates a new logger with a given prefix. The level defaults to
// LOGPIPE_DIAG_LEVEL, or Warning when unset.
func NewLogger(prefix string, logLevel ...LogLevel) *Logger {
	logLevelValue := ParseLogLevel(os.Getenv(DiagLevelEnv))
	if len(logLevel) > 0 {
		logLevelValue = logLevel[0]
	}
	return &Logger{
		prefix:   prefix,
		logger:   log.New(currentOutput(), fmt.Sprintf("[%s] ", prefix), log.LstdFlags|log.Lmicroseconds),
		logLevel: logLevelValue,
	}
}

// SetLogLevel sets the logging level
func (l *Logger) SetLogLevel(logLevel LogLevel) {
	l.logLevelMutex.Lock()
	defer l.logLevelMutex.Unlock()
	l.logLevel = logLevel
}

// SetOutput redirects this logger only.
func (l *Logger) SetOutput(w io.Writer) {
	l.logger.SetOutput(w)
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level LogLevel) bool {
	l.logLevelMutex.Lock()
	defer l.logLevelMutex.Unlock()
	return level >= l.logLevel
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.write(Debug, msg, keyvals...)
}

func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.write(Info, msg, keyvals...)
}

func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.write(Warning, msg, keyvals...)
}

func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.write(Error, msg, keyvals...)
}

func (l *Logger) write(level LogLevel, msg string, keyvals ...interface{}) {
	if !l.Enabled(level) {
		return
	}
	// log.Logger serializes concurrent writes itself.
	l.logger.Println(fmt.Sprintf("[%s] %s", level, msg) + FormatKeyvals(keyvals...))
}

// FormatKeyvals renders key/value pairs as " k=v k2=v2". A trailing key without
// a value is rendered as "k=<missing>".
func FormatKeyvals(keyvals ...interface{}) string {
	if len(keyvals) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < len(keyvals); i += 2 {
		b.WriteByte(' ')
		if i+1 < len(keyvals) {
			fmt.Fprintf(&b, "%v=%v", keyvals[i], keyvals[i+1])
		} else {
			fmt.Fprintf(&b, "%v=<missing>", keyvals[i])
		}
	}
	return b.String()
}
