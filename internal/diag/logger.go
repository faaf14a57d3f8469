package diag

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 级别定义
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

func (l Level) zap() zapcore.Level {
	switch l {
	case Debug:
		return zapcore.DebugLevel
	case Warn:
		return zapcore.WarnLevel
	case Error:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// DefaultLogFile 为日志目录下的当前文件名。
const DefaultLogFile = "spellcombo-current.log"

// Logger 为结构化日志器：单行 JSON（zap）写入轮转文件；
// 字段沿用固定事件形状：comp/stage/code/dur_ms/count/file_id/kv。
type Logger struct {
	corrID string
	level  Level
	z      *zap.Logger
	sink   *RotatingFile
}

// NewLogger 以 level 初始化，日志写入 dir（为空时为 logs）下的轮转文件，10MiB 轮转。
func NewLogger(corrID, level, dir string) *Logger {
	if strings.TrimSpace(dir) == "" {
		dir = "logs"
	}
	sink := NewRotatingFile(dir, 0, 0)
	l := newLogger(corrID, level, sink)
	l.sink = sink
	return l
}

// NewLoggerTo 将日志写入任意 Writer（测试与 stderr 输出用）。
func NewLoggerTo(corrID, level string, w io.Writer) *Logger {
	return newLogger(corrID, level, zapcore.AddSync(w))
}

// Nop 返回丢弃全部事件的 Logger。
func Nop() *Logger {
	return &Logger{level: Error + 1, z: zap.NewNop()}
}

func newLogger(corrID, level string, ws zapcore.WriteSyncer) *Logger {
	lvl := parseLevel(strings.TrimSpace(level))
	enc := zapcore.NewJSONEncoder(encoderConfig())
	// 写失败时 zap 将错误输出到 ErrorOutput，此处回落到 stderr
	core := zapcore.NewCore(enc, ws, lvl.zap())
	z := zap.New(core, zap.ErrorOutput(zapcore.Lock(os.Stderr))).With(zap.String("corr_id", corrID))
	return &Logger{corrID: corrID, level: lvl, z: z}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     utcRFC3339,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
}

func utcRFC3339(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format(time.RFC3339))
}

func parseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// ParseLevel 校验级别名；空串视为 info。
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return Info, true
	case "debug", "warn", "error":
		return parseLevel(s), true
	default:
		return Info, false
	}
}

// CorrID 返回关联 ID。
func (l *Logger) CorrID() string { return l.corrID }

// Path 返回当前日志文件路径；非文件输出时为空。
func (l *Logger) Path() string {
	if l.sink == nil {
		return ""
	}
	return filepath.Join(l.sink.dir, DefaultLogFile)
}

// Event 为标准事件结构。
type Event struct {
	Comp   string
	Stage  string // start|finish|error|warn
	Code   string
	DurMS  int64
	Count  int64
	FileID string
	Msg    string
	KV     map[string]string
}

func (ev Event) fields() []zap.Field {
	fs := make([]zap.Field, 0, 7)
	fs = append(fs, zap.String("comp", ev.Comp), zap.String("stage", ev.Stage))
	if ev.Code != "" {
		fs = append(fs, zap.String("code", ev.Code))
	}
	if ev.DurMS != 0 {
		fs = append(fs, zap.Int64("dur_ms", ev.DurMS))
	}
	if ev.Count != 0 {
		fs = append(fs, zap.Int64("count", ev.Count))
	}
	if ev.FileID != "" {
		fs = append(fs, zap.String("file_id", ev.FileID))
	}
	if len(ev.KV) > 0 {
		fs = append(fs, zap.Any("kv", ev.KV))
	}
	return fs
}

func (l *Logger) log(lv Level, ev Event) {
	if l == nil || l.z == nil || lv < l.level {
		return
	}
	if ce := l.z.Check(lv.zap(), ev.Msg); ce != nil {
		ce.Write(ev.fields()...)
	}
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Msg: msg})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 file_id 的 start。
func (l *Logger) StartWith(comp, msg, fileID string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", FileID: fileID, Msg: msg})
	return &Timer{l: l, comp: comp, fileID: fileID, t0: time.Now()}
}

// StartWithKV 记录带 file_id 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, fileID string, kv map[string]string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", FileID: fileID, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, fileID: fileID, t0: time.Now()}
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", nil)
}

// ErrorWith 支持 file_id。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, fileID string) {
	l.ErrorWithKV(comp, code, msg, durSince, fileID, nil)
}

// ErrorWithKV 支持附带键值对（例如行号、病程根）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, fileID string, kv map[string]string) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: dur, Msg: msg, FileID: fileID, KV: kv})
}

// Warn 记录非致命缺陷（行级跳过、容量告警）。
func (l *Logger) Warn(comp, code, msg, fileID string, kv map[string]string) {
	l.log(Warn, Event{Comp: comp, Stage: "warn", Code: code, FileID: fileID, Msg: msg, KV: kv})
}

// DebugStart 输出调试级别的 start 类事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, fileID string, kv map[string]string) {
	l.log(Debug, Event{Comp: comp, Stage: "start", FileID: fileID, Msg: msg, KV: kv})
}

// Close 刷新并关闭日志文件。
func (l *Logger) Close() error {
	if l == nil || l.z == nil {
		return nil
	}
	// 对 stderr 等不可 Sync 的输出，Sync 错误忽略
	_ = l.z.Sync()
	if l.sink != nil {
		return l.sink.Close()
	}
	return nil
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	fileID string
	t0     time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	t.FinishKV(msg, count, nil)
}

// FinishKV 记录带统计键值的 finish。
func (t *Timer) FinishKV(msg string, count int64, kv map[string]string) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(Info, Event{Comp: t.comp, Stage: "finish", DurMS: time.Since(t.t0).Milliseconds(), Count: count, FileID: t.fileID, Msg: msg, KV: kv})
}

// Since 返回起点，供 Error 计算耗时。
func (t *Timer) Since() *time.Time {
	if t == nil {
		return nil
	}
	return &t.t0
}
