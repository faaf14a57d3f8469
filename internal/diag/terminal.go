package diag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-isatty"
)

// Terminal 是面向人的运行状态提示，与结构化日志相互独立。
// TTY 下进度以 \r 原地刷新；非 TTY（含 CI）只在运行、阶段、结束三处各打一行。
// 任一次写失败后永久静默。方法可在 nil 接收者上调用。
type Terminal struct {
	mu sync.Mutex

	w       io.Writer
	enabled bool
	isTTY   bool

	tagOK, tagFail, tagInfo, dim lipgloss.Style

	command string
	input   string
	stage   string
	started time.Time

	inlineWidth int // 上一条原地刷新行的可见宽度
	lastTick    time.Time
}

const progressThrottle = 100 * time.Millisecond

var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 安装进程级终端，pipeline 通过 GetTerminal 取用；nil 表示关闭。
func SetTerminal(t *Terminal) {
	termMu.Lock()
	term = t
	termMu.Unlock()
}

func GetTerminal() *Terminal {
	termMu.RLock()
	defer termMu.RUnlock()
	return term
}

// NewTerminal 绑定 w（nil 时为 stderr）。配色交给 lipgloss 按 w 的能力降级。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	r := lipgloss.NewRenderer(w)
	return &Terminal{
		w:       w,
		enabled: enabled,
		isTTY:   detectTTY(w),
		tagOK:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A")),
		tagFail: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#e53935")),
		tagInfo: r.NewStyle().Foreground(lipgloss.Color("#2196F3")),
		dim:     r.NewStyle().Faint(true),
	}
}

func detectTTY(w io.Writer) bool {
	if os.Getenv("CI") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// with 在持锁且启用时执行 fn。
func (t *Terminal) with(fn func()) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enabled {
		fn()
	}
}

// RunStart 记录子命令与输入，并打印起始行。
func (t *Terminal) RunStart(command, input string) {
	t.with(func() {
		t.command = oneLine(command)
		t.input = shortenBase(input, 48)
		t.started = time.Now()
		t.line(fmt.Sprintf("%s %s | 输入=%s", t.tagInfo.Render("[run]"), t.command, t.input))
	})
}

// StageStart 切换阶段（expand / pass1 / pass2）。
func (t *Terminal) StageStart(stage string) {
	t.with(func() {
		t.stage = oneLine(stage)
		if !t.isTTY {
			t.line(fmt.Sprintf("%s %s | %s", t.tagInfo.Render("[stage]"), t.stage, t.input))
		}
	})
}

// Progress 上报当前阶段已处理行数；仅 TTY 输出，且按 progressThrottle 节流。
func (t *Terminal) Progress(rows uint64) {
	t.with(func() {
		if !t.isTTY {
			return
		}
		now := time.Now()
		if now.Sub(t.lastTick) < progressThrottle {
			return
		}
		t.lastTick = now
		t.inline(fmt.Sprintf("[%s] %s | 行 %d | 用时 %s", t.stage, t.input, rows, formatDur(now.Sub(t.started))))
	})
}

// RunFinish 打印结束行；summary 为已格式化统计，如 "written=3 skipped=1"。
func (t *Terminal) RunFinish(ok bool, dur time.Duration, summary string) {
	t.with(func() {
		tag := t.tagOK.Render("[ok]")
		if !ok {
			tag = t.tagFail.Render("[fail]")
		}
		if t.isTTY && t.inlineWidth > 0 {
			t.inline("")
		}
		s := fmt.Sprintf("%s %s | %s | 总用时 %s", tag, t.command, t.input, formatDur(dur))
		if summary != "" {
			s += " | " + t.dim.Render(oneLine(summary))
		}
		t.line(s)
	})
}

func (t *Terminal) line(s string) {
	t.write(s + "\n")
	t.inlineWidth = 0
}

// inline 回到行首覆盖上一条，较短时以空格补齐残留字符。
func (t *Terminal) inline(s string) {
	w := lipgloss.Width(s)
	pad := ""
	if t.inlineWidth > w {
		pad = strings.Repeat(" ", t.inlineWidth-w)
	}
	if t.write("\r" + s + pad) {
		t.inlineWidth = w
	}
}

func (t *Terminal) write(s string) bool {
	if !t.enabled {
		return false
	}
	if _, err := io.WriteString(t.w, s); err != nil {
		t.enabled = false
		return false
	}
	return true
}

// shortenBase 取路径基名并截到 max 个显示列；"-" 显示为 stdin。
func shortenBase(s string, max int) string {
	if max <= 0 {
		return ""
	}
	s = strings.TrimSpace(s)
	if s == "-" {
		return "stdin"
	}
	return ansi.Truncate(filepath.Base(s), max, "…")
}

func oneLine(s string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}

// formatDur: 1s 以下按毫秒，以上按 0.1s。
func formatDur(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", max(d.Milliseconds(), 0))
	}
	return fmt.Sprintf("%.1fs", d.Round(100*time.Millisecond).Seconds())
}
