package log

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"log/syslog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is the minimum level that will be emitted.
type Level int32

const (
	LevelSilent Level = iota - 1
	LevelError
	LevelInfo
	LevelTrace
	LevelDebug
)

var (
	CurLevel  atomic.Int32
	errFile   *lumberjack.Logger
	errLogger *log.Logger
	errMu     sync.Mutex

	origStderr = os.Stderr
)

// multi is a simple fan-out writer (stderr + optional syslog).
type multi struct {
	mu sync.Mutex
	ws []io.Writer
}

func (m *multi) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.ws {
		_, _ = w.Write(p)
	}
	return len(p), nil
}

var (
	mu         sync.Mutex
	base       = &multi{ws: []io.Writer{os.Stderr}}
	buf        *bufio.Writer
	logger     *log.Logger
	flushTimer *time.Ticker
	insta      bool
)

func init() {
	CurLevel.Store(int32(LevelInfo))
}

// Init sets the base writer, level, and instaflush behavior.
func Init(w io.Writer, level Level, instaflush bool) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	base.ws = append([]io.Writer{w}, extraSinks()...)
	insta = instaflush
	CurLevel.Store(int32(level))
	rebuildLocked()
}

// OrigStderr is the process stderr captured at startup.
func OrigStderr() io.Writer { return origStderr }

var (
	sinksMu sync.Mutex
	sinks   []io.Writer
)

func extraSinks() []io.Writer {
	sinksMu.Lock()
	defer sinksMu.Unlock()
	return append([]io.Writer(nil), sinks...)
}

// AttachSyslog adds an extra sink (used by tests or by EnableSyslog).
// Sinks survive a later Init.
func AttachSyslog(w io.Writer) {
	if w == nil {
		return
	}
	sinksMu.Lock()
	sinks = append(sinks, w)
	sinksMu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	base.ws = append(base.ws, w)
	rebuildLocked()
}

// EnableSyslog connects to the local syslog and attaches it as a sink.
func EnableSyslog(tag string) error {
	sw, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, tag)
	if err != nil {
		return err
	}
	AttachSyslog(sw)
	return nil
}

// SetLevel changes the active level.
func SetLevel(l Level) { CurLevel.Store(int32(l)) }

// Enabled reports whether messages at l are currently emitted.
func Enabled(l Level) bool { return Level(CurLevel.Load()) >= l }

// SetInstaflush toggles line buffering. Switching to instaflush flushes any
// pending buffered data immediately.
func SetInstaflush(v bool) {
	mu.Lock()
	defer mu.Unlock()
	if insta == v {
		return
	}
	insta = v
	if buf != nil && v {
		_ = buf.Flush()
	}
	rebuildLocked()
}

// Flush forces a flush when buffering is enabled.
func Flush() {
	mu.Lock()
	defer mu.Unlock()
	if buf != nil {
		_ = buf.Flush()
	}
}

// ErrorFile configures the rotated file that receives a copy of every error.
type ErrorFile struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func InitErrorFile(ef ErrorFile) error {
	if ef.Path == "" {
		return nil
	}
	errMu.Lock()
	defer errMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(ef.Path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	if errFile != nil {
		_ = errFile.Close()
	}
	errFile = &lumberjack.Logger{
		Filename:   ef.Path,
		MaxSize:    ef.MaxSizeMB,
		MaxBackups: ef.MaxBackups,
		MaxAge:     ef.MaxAgeDays,
		Compress:   ef.Compress,
	}
	errLogger = log.New(errFile, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	return nil
}

func CloseErrorFile() {
	errMu.Lock()
	defer errMu.Unlock()
	if errFile != nil {
		_ = errFile.Close()
		errFile = nil
		errLogger = nil
	}
}

// ---- printing ------------------------------------------------------------

func Errorf(format string, a ...any) error {
	err := fmt.Errorf(format, a...)
	if Level(CurLevel.Load()) < LevelError {
		return err
	}
	msg := "[ERROR] " + err.Error()
	out("%s", msg)

	errMu.Lock()
	if errLogger != nil {
		errLogger.Println(msg)
	}
	errMu.Unlock()

	return err
}

func Warnf(format string, a ...any) {
	if Level(CurLevel.Load()) >= LevelError {
		out("[WARN] "+format, a...)
	}
}

func Infof(format string, a ...any) {
	if Level(CurLevel.Load()) >= LevelInfo {
		out("[INFO] "+format, a...)
	}
}

func Tracef(format string, a ...any) {
	if Level(CurLevel.Load()) >= LevelTrace {
		out("[TRACE] "+format, a...)
	}
}

func Debugf(format string, a ...any) {
	if Level(CurLevel.Load()) >= LevelDebug {
		out("[DEBUG] "+format, a...)
	}
}

func out(format string, a ...any) {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		rebuildLocked()
	}
	logger.Printf(format, a...)
}

// ---- internals -----------------------------------------------------------

func rebuildLocked() {
	var w io.Writer = base
	if insta {
		buf = nil
		logger = log.New(w, "", log.Ldate|log.Ltime|log.Lmicroseconds)
		stopFlusherLocked()
		return
	}

	// buffered mode
	buf = bufio.NewWriterSize(w, 16*1024)
	logger = log.New(buf, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	startFlusherLocked()
}

func startFlusherLocked() {
	stopFlusherLocked()
	flushTimer = time.NewTicker(2 * time.Second)
	go func(t *time.Ticker) {
		for range t.C {
			mu.Lock()
			if buf != nil {
				_ = buf.Flush()
			}
			mu.Unlock()
		}
	}(flushTimer)
}

func stopFlusherLocked() {
	if flushTimer != nil {
		flushTimer.Stop()
		flushTimer = nil
	}
}

// ParseLevel maps the --verbose names onto levels.
func ParseLevel(name string) (Level, bool) {
	switch name {
	case "debug":
		return LevelDebug, true
	case "trace":
		return LevelTrace, true
	case "info":
		return LevelInfo, true
	case "error":
		return LevelError, true
	case "silent":
		return LevelSilent, true
	}
	return LevelInfo, false
}

func (l Level) String() string {
	switch l {
	case LevelSilent:
		return "silent"
	case LevelError:
		return "error"
	case LevelInfo:
		return "info"
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	}
	return fmt.Sprintf("level(%d)", int32(l))
}

// MarshalText writes the level by name so config files and UA2F_* variables
// use the same words as --verbose.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(b)))
	if lv, ok := ParseLevel(name); ok {
		*l = lv
		return nil
	}
	if n, err := strconv.Atoi(name); err == nil && n >= int(LevelSilent) && n <= int(LevelDebug) {
		*l = Level(n)
		return nil
	}
	return fmt.Errorf("unknown log level %q", string(b))
}

func Info(a ...any)  { Infof("%s", fmt.Sprint(a...)) }
func Trace(a ...any) { Tracef("%s", fmt.Sprint(a...)) }
