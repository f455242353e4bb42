package logger

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/MrSnakeDoc/wxproxy/internal/printer"
	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	Level string    // "debug","info","warn","error"
	JSON  bool      // JSON lines, one object per event
	Color bool      // colorize (console)
	Out   io.Writer // default os.Stdout
}

var (
	mu       sync.RWMutex
	zlog     *zap.SugaredLogger
	out      io.Writer = os.Stdout
	p        *printer.ColorPrinter
	curLevel = zapcore.InfoLevel
	jsonMode bool
	colored  bool
	ready    atomic.Bool
)

// Configure sets up the global logger.
func Configure(opts Options) {
	mu.Lock()
	defer mu.Unlock()
	configureLocked(opts)
}

func configureLocked(opts Options) {
	if opts.Out != nil {
		out = opts.Out
	}

	var enc zapcore.Encoder
	if opts.JSON {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "ts"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encCfg.CallerKey = ""
		encCfg.MessageKey = "msg"
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			MessageKey:       "msg",
			TimeKey:          "ts",
			EncodeTime:       zapcore.TimeEncoderOfLayout("15:04:05"),
			ConsoleSeparator: " ",
		})
	}

	level := parseLevel(opts.Level)
	ws := zapcore.AddSync(writerAdapter{out})
	core := zapcore.NewCore(enc, ws, level)

	zlog = zap.New(core).Sugar()
	jsonMode = opts.JSON
	colored = opts.Color
	p = printer.New(opts.Color && !opts.JSON)

	ready.Store(true)
}

// SetLevel adjusts current level at runtime ("debug","info","warn","error").
func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()
	configureLocked(Options{Level: level, Out: out, JSON: jsonMode, Color: colored})
}

// SetOutput replaces the logger writer (use io.Discard in tests).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stdout
	}
	configureLocked(Options{Level: curLevel.String(), Out: w, JSON: jsonMode, Color: colored})
}

// UseTestMode silences logs during tests.
func UseTestMode() {
	Configure(Options{
		Level: "error",
		Color: false,
		JSON:  false,
		Out:   io.Discard,
	})
}

// Out returns the current output writer (for tables).
func Out() io.Writer {
	mu.RLock()
	defer mu.RUnlock()
	return out
}

// ---- Public logging API ----

func Info(msg string, args ...interface{}) {
	emit(func() { zlog.Info(p.Info(decorate("✨ ", msg), args...)) })
}

func Success(msg string, args ...interface{}) {
	emit(func() { zlog.Info(p.Success(decorate("✅ ", msg), args...)) })
}

func LogError(msg string, args ...interface{}) {
	emit(func() { zlog.Error(p.Error(decorate("❌ ", msg), args...)) })
}

func Warn(msg string, args ...interface{}) {
	emit(func() { zlog.Warn(p.Warning(decorate("⚠️ ", msg), args...)) })
}

func Debug(msg string, args ...interface{}) {
	emit(func() { zlog.Debug(p.Debug(decorate("🛠️ ", msg), args...)) })
}

// Access emits one structured line per served request at debug level.
func Access(msg string, keysAndValues ...interface{}) {
	emit(func() { zlog.Debugw(msg, keysAndValues...) })
}

// ---- Tables ----

// CreateTable renders to w, or to the log output when w is nil.
func CreateTable(w io.Writer, headers []string) *tablewriter.Table {
	if w == nil {
		w = Out()
	}
	t := tablewriter.NewTable(w)
	t.Header(headers)
	return t
}

// ---- internals ----

type writerAdapter struct{ w io.Writer }

func (wa writerAdapter) Write(p []byte) (int, error) { return wa.w.Write(p) }

func decorate(prefix, msg string) string {
	if jsonMode {
		return msg
	}
	return prefix + msg
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		curLevel = zapcore.DebugLevel
	case "info", "":
		curLevel = zapcore.InfoLevel
	case "warn":
		curLevel = zapcore.WarnLevel
	case "error":
		curLevel = zapcore.ErrorLevel
	default:
		curLevel = zapcore.InfoLevel
	}
	return curLevel
}

// emit runs log under the read lock, configuring info-level console
// output first if nothing has yet.
func emit(log func()) {
	if !ready.Load() {
		mu.Lock()
		if !ready.Load() {
			configureLocked(Options{Level: "info", Color: true})
		}
		mu.Unlock()
	}
	mu.RLock()
	log()
	mu.RUnlock()
}
