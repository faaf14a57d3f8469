package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"spellcombo/internal/combo"
	"spellcombo/internal/diag"
	"spellcombo/internal/minimal"
	"spellcombo/pkg/contract"
)

// - 单线程两遍批处理：无内部并发，ctx 贯穿所有阻塞操作（SIGINT 中止）。
// - 行级缺陷：记录后跳过，不重试；其他错误为致命错误，放弃输出（原子 Writer 不留半成品）。
// - 表头原样写出；列查找使用规范化表头。

// ErrSetup 标记运行开始前的装配类失败（输入无法打开、表头非法、输出路径非法）。
// 上层据此与运行期 I/O 失败区分退出码。
var ErrSetup = errors.New("setup failed")

// Components 聚合运行所需的原子组件。
type Components struct {
	Reader contract.Reader
	Codec  contract.Codec
	Writer contract.Writer
	// NewSpellTable 为每次 minimal 运行创建私有病程表；combos 不使用。
	NewSpellTable func() (contract.SpellTable, error)
}

// ReplayMode: 第二遍行源。
type ReplayMode string

const (
	// ReplayMemory 在第一遍缓存全部已接受行。
	ReplayMemory ReplayMode = "memory"
	// ReplayReopen 重新打开输入（STDIN 输入强制 memory）。
	ReplayReopen ReplayMode = "reopen"
)

// ParseReplay 解析重放模式；空串视为 memory。
func ParseReplay(s string) (ReplayMode, error) {
	switch ReplayMode(strings.TrimSpace(s)) {
	case "", ReplayMemory:
		return ReplayMemory, nil
	case ReplayReopen:
		return ReplayReopen, nil
	default:
		return "", fmt.Errorf("%w: replay must be memory or reopen, got %q", contract.ErrInvalidInput, s)
	}
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	// Input 为输入路径，"-" 表示 STDIN。
	Input string
	// Output 为输出路径，"-" 表示 STDOUT；为空时 STDIN 输入写 STDOUT，
	// 否则写到输入旁的 <base>_v2<ext>。
	Output    string
	Replay    ReplayMode
	ShortRows combo.ShortRowPolicy
	// Tracer 非空时逐行输出第二遍判定（调试模式）。
	Tracer *diag.Tracer
}

// Result 为运行统计。
type Result struct {
	FileID    contract.FileID
	Output    string
	Combos    combo.Stats
	Aggregate minimal.AggregateStats
	Filter    minimal.FilterStats
	Roots     int
}

// ResolveOutput 返回生效的输出路径。
func ResolveOutput(set Settings) string {
	out := strings.TrimSpace(set.Output)
	if out != "" {
		return out
	}
	in := strings.TrimSpace(set.Input)
	if in == "-" {
		return "-"
	}
	return contract.DefaultOutputPath(in)
}

func sanity(c Components, s Settings, needTable bool) error {
	if c.Reader == nil || c.Codec == nil || c.Writer == nil {
		return errors.New("pipeline: missing components")
	}
	if needTable && c.NewSpellTable == nil {
		return errors.New("pipeline: missing spell table factory")
	}
	in := strings.TrimSpace(s.Input)
	if in == "" {
		return fmt.Errorf("%w: empty input", contract.ErrInvalidInput)
	}
	out := ResolveOutput(s)
	if in != "-" && out != "-" && samePath(in, out) {
		return fmt.Errorf("%w: output %q would overwrite input", contract.ErrInvalidInput, out)
	}
	return nil
}

func samePath(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return aa == bb
}

// source 为一次打开的输入：字节流、行扫描器与列布局。
type source struct {
	fileID contract.FileID
	rc     io.ReadCloser
	scan   contract.RowScanner
	layout contract.Layout
}

// openSource 打开输入并解析表头。
func openSource(ctx context.Context, comp Components, path string) (*source, error) {
	fid, rc, err := comp.Reader.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	scan, err := comp.Codec.Scan(ctx, fid, rc)
	if err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}
	layout, err := contract.NewLayout(scan.Header())
	if err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("%s: %w", fid, err)
	}
	return &source{fileID: fid, rc: rc, scan: scan, layout: layout}, nil
}

func (s *source) Close() error {
	if s == nil || s.rc == nil {
		return nil
	}
	err := s.rc.Close()
	s.rc = nil
	return err
}

// createOutput 打开输出工件并写出原样表头。
func createOutput(ctx context.Context, comp Components, out string, header []string) (contract.Artifact, contract.RowEncoder, error) {
	art, err := comp.Writer.Create(ctx, contract.ArtifactID(out))
	if err != nil {
		if errors.Is(err, contract.ErrPathInvalid) {
			return nil, nil, fmt.Errorf("%w: create output: %w", ErrSetup, err)
		}
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	enc := comp.Codec.Encoder(art)
	if err := enc.WriteRow(header); err != nil {
		_ = art.Abort()
		return nil, nil, fmt.Errorf("write header: %w", err)
	}
	return art, enc, nil
}

// finishOutput 刷新编码器并提交工件；失败时放弃。
func finishOutput(art contract.Artifact, enc contract.RowEncoder) error {
	if err := enc.Flush(); err != nil {
		_ = art.Abort()
		return fmt.Errorf("flush output: %w", err)
	}
	if err := art.Commit(); err != nil {
		return fmt.Errorf("commit output: %w", err)
	}
	return nil
}

// progressEvery 为终端进度上报的行间隔。
const progressEvery = 4096

// maxRowWarnings 为单阶段逐行告警的上限，超出后仅汇总计数。
const maxRowWarnings = 100

// rowWarner 记录行级缺陷告警（按阶段限量）。
type rowWarner struct {
	logger *diag.Logger
	comp   string
	fileID string
	n      int
}

func (w *rowWarner) warn(err error, line int64) {
	w.n++
	code := diag.Classify(err)
	diag.IncError(w.comp, string(code))
	if w.logger == nil {
		return
	}
	switch {
	case w.n <= maxRowWarnings:
		w.logger.Warn(w.comp, string(code), err.Error(), w.fileID, map[string]string{"line": strconv.FormatInt(line, 10)})
	case w.n == maxRowWarnings+1:
		w.logger.Warn(w.comp, string(code), "further row warnings suppressed", w.fileID, nil)
	}
}

// fail 记录致命错误事件与指标并返回包装后的错误。
func fail(logger *diag.Logger, comp, msg, fileID string, timer *diag.Timer, err error) error {
	code := diag.Classify(err)
	if logger != nil {
		logger.ErrorWith(comp, string(code), msg+": "+err.Error(), timer.Since(), fileID)
	}
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func u64(n uint64) string { return strconv.FormatUint(n, 10) }
