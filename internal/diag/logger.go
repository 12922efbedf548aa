package diag

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileName is the active log file inside the log directory; rotated siblings get a
// timestamp suffix.
const LogFileName = "llmds.log"

// Logger: structured JSON-line logger.
// Every event carries corr_id, comp and stage (start|finish|error|warn); optional
// file_id, batch_id, code, dur_ms, count and free-form kv fields.
// Methods are safe on a nil *Logger (no-op).
type Logger struct {
	corrID string
	log    *logrus.Logger
	closer io.Closer
}

// NewLogger writes to dir/llmds.log, rotated at 10 MiB with five backups.
// An empty dir defaults to "logs".
func NewLogger(corrID, level, dir string) *Logger {
	if strings.TrimSpace(dir) == "" {
		dir = "logs"
	}
	sink := &lumberjack.Logger{
		Filename:   filepath.Join(dir, LogFileName),
		MaxSize:    10, // MiB
		MaxBackups: 5,
		LocalTime:  false,
	}
	l := NewLoggerTo(corrID, level, sink)
	l.closer = sink
	return l
}

// NewLoggerTo writes events to w (stderr when nil).
func NewLoggerTo(corrID, level string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	lg := logrus.New()
	lg.SetOutput(w)
	lg.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
		FieldMap:        logrus.FieldMap{logrus.FieldKeyTime: "ts", logrus.FieldKeyMsg: "msg"},
	})
	lg.SetLevel(parseLevel(level))
	return FromLogrus(lg, corrID)
}

// FromLogrus wraps an existing logrus logger (tests use the null logger hook).
func FromLogrus(lg *logrus.Logger, corrID string) *Logger {
	return &Logger{corrID: corrID, log: lg}
}

// Close releases the rotating sink, if any.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// CorrID returns the correlation id stamped on every event.
func (l *Logger) CorrID() string {
	if l == nil {
		return ""
	}
	return l.corrID
}

func parseLevel(s string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Event is the standard event shape.
type Event struct {
	Comp   string
	Stage  string // start|finish|error|warn
	Code   string
	DurMS  int64
	Count  int64
	FileID string
	Batch  string
	Msg    string
	KV     map[string]string
}

func (l *Logger) emit(lv logrus.Level, ev Event) {
	if l == nil || l.log == nil || !l.log.IsLevelEnabled(lv) {
		return
	}
	f := logrus.Fields{"corr_id": l.corrID, "comp": ev.Comp, "stage": ev.Stage}
	if ev.Code != "" {
		f["code"] = ev.Code
	}
	if ev.DurMS != 0 {
		f["dur_ms"] = ev.DurMS
	}
	if ev.Count != 0 {
		f["count"] = ev.Count
	}
	if ev.FileID != "" {
		f["file_id"] = ev.FileID
	}
	if ev.Batch != "" {
		f["batch_id"] = ev.Batch
	}
	if len(ev.KV) > 0 {
		f["kv"] = ev.KV
	}
	l.log.WithFields(f).Log(lv, ev.Msg)
}

// Start logs a start event and returns a timer for Finish.
func (l *Logger) Start(comp, msg string) *Timer {
	l.emit(logrus.InfoLevel, Event{Comp: comp, Stage: "start", Msg: msg})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith logs a start event bound to file_id/batch_id.
func (l *Logger) StartWith(comp, msg, fileID, batch string) *Timer {
	l.emit(logrus.InfoLevel, Event{Comp: comp, Stage: "start", FileID: fileID, Batch: batch, Msg: msg})
	return &Timer{l: l, comp: comp, fileID: fileID, batch: batch, t0: time.Now()}
}

// StartWithKV is StartWith with extra key/values.
func (l *Logger) StartWithKV(comp, msg, fileID, batch string, kv map[string]string) *Timer {
	l.emit(logrus.InfoLevel, Event{Comp: comp, Stage: "start", FileID: fileID, Batch: batch, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, fileID: fileID, batch: batch, t0: time.Now()}
}

// Error logs an error event; errors are never sampled.
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.emit(logrus.ErrorLevel, Event{Comp: comp, Stage: "error", Code: code, DurMS: since(durSince), Msg: msg})
}

// ErrorWith binds file_id/batch_id.
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, fileID, batch string) {
	l.emit(logrus.ErrorLevel, Event{Comp: comp, Stage: "error", Code: code, DurMS: since(durSince), Msg: msg, FileID: fileID, Batch: batch})
}

// ErrorWithKV attaches key/values such as HTTP status or an upstream message.
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, fileID, batch string, kv map[string]string) {
	l.emit(logrus.ErrorLevel, Event{Comp: comp, Stage: "error", Code: code, DurMS: since(durSince), Msg: msg, FileID: fileID, Batch: batch, KV: kv})
}

// Warn logs a recoverable condition.
func (l *Logger) Warn(comp, msg, fileID string, kv map[string]string) {
	l.emit(logrus.WarnLevel, Event{Comp: comp, Stage: "warn", FileID: fileID, Msg: msg, KV: kv})
}

// InfoFinish logs a finish event for an externally tracked start.
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.emit(logrus.InfoLevel, Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// DebugStart logs a debug level start-like event.
func (l *Logger) DebugStart(comp, msg, fileID, batch string, kv map[string]string) {
	l.emit(logrus.DebugLevel, Event{Comp: comp, Stage: "start", FileID: fileID, Batch: batch, Msg: msg, KV: kv})
}

func since(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return time.Since(*t).Milliseconds()
}

// Timer measures start→finish.
type Timer struct {
	l      *Logger
	comp   string
	fileID string
	batch  string
	t0     time.Time
}

// Finish logs the finish event and feeds the duration histogram.
func (t *Timer) Finish(msg string, count int64) {
	if t == nil {
		return
	}
	dur := time.Since(t.t0).Milliseconds()
	ObserveDuration(t.comp, "finish", dur)
	t.l.emit(logrus.InfoLevel, Event{Comp: t.comp, Stage: "finish", DurMS: dur, Count: count, FileID: t.fileID, Batch: t.batch, Msg: msg})
}
