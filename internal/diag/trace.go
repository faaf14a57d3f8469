package diag

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"spellcombo/pkg/contract"
)

// Tracer 输出逐行判定（调试模式 -d），使用无时间戳的 zap 控制台编码，默认写 stdout。
type Tracer struct {
	z *zap.Logger
}

// NewTracer 创建调试追踪器；w 为 nil 时写 stdout。
func NewTracer(w io.Writer) *Tracer {
	if w == nil {
		w = os.Stdout
	}
	cfg := zapcore.EncoderConfig{
		MessageKey:       "msg",
		LevelKey:         "level",
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		LineEnding:       zapcore.DefaultLineEnding,
		ConsoleSeparator: " ",
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(w), zapcore.DebugLevel)
	return &Tracer{z: zap.New(core)}
}

// Layout 输出列布局。
func (t *Tracer) Layout(l contract.Layout) {
	if t == nil {
		return
	}
	t.z.Debug("layout",
		zap.Int("provspno_col", l.Spell),
		zap.Int("diag_from", l.DiagFrom),
		zap.Int("diag_to", l.DiagTo),
		zap.String("diag_cols", strings.Join(l.Columns[l.DiagFrom:l.DiagTo+1], ",")),
	)
}

// Row 输出单行判定；签名与 minimal.Trace 一致。
func (t *Tracer) Row(line int64, id, root string, occupancy, min int, found, kept bool) {
	if t == nil {
		return
	}
	fs := []zap.Field{
		zap.Int64("line", line),
		zap.String("id", id),
		zap.String("root", root),
	}
	if _, n, ok := contract.ParseAnnotation(id); ok {
		fs = append(fs, zap.Uint64("ordinal", n))
	}
	fs = append(fs, zap.Int("diag_count", occupancy))
	if found {
		fs = append(fs, zap.Int("min_count", min))
	} else {
		fs = append(fs, zap.String("min_count", "missing"))
	}
	fs = append(fs, zap.Bool("kept", kept))
	t.z.Debug("row", fs...)
}

// Sync 刷新输出。
func (t *Tracer) Sync() error {
	if t == nil {
		return nil
	}
	return t.z.Sync()
}
