package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cfgpkg "spellcombo/internal/config"
	"spellcombo/internal/diag"
	"spellcombo/internal/pipeline"
)

var (
	runCombos  = pipeline.RunCombos
	runMinimal = pipeline.RunMinimal
)

// 退出码：0 成功；1 运行期失败；3 配置/表头/装配失败。
const (
	exitOK      = 0
	exitRuntime = 1
	exitSetup   = 3
)

func main() {
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = loadDotEnv(".env")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// cli 保存一次调用的旗标与输出流。
type cli struct {
	configPath string
	logLevel   string
	delimiter  string
	status     bool
	metricsOut string

	shortRows string
	replay    string
	debug     bool

	stdout io.Writer
	stderr io.Writer
}

// exitError 携带退出码；消息已由命令自行输出。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// cobra 的用法错误（未知旗标、参数个数）
	fmt.Fprintf(stderr, "参数错误: %v\n", err)
	return exitSetup
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "spellcombo",
		Short: "Expand diagnosis combinations and select minimal spell representatives",
		Long: `spellcombo processes delimited hospital-spell extracts (PROVSPNO, DIAG_01..DIAG_nn).

  combos   writes every source row followed by one row per subset of its
           secondary diagnoses, annotated <root>|Combination|<ordinal>.
  minimal  keeps, per spell root, only the rows with the fewest populated
           diagnosis columns (ties are all kept, input order preserved).

"-" as input reads STDIN; "-" as output writes STDOUT.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "配置文件路径（YAML 或 JSON）；缺省读取 ./spellcombo.yaml（若存在）")
	pf.StringVar(&c.logLevel, "log-level", "", "日志级别 debug|info|warn|error（覆盖配置）")
	pf.StringVar(&c.delimiter, "delimiter", "", "单字符分隔符（覆盖配置，默认 ,）")
	pf.BoolVar(&c.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	pf.StringVar(&c.metricsOut, "metrics-out", "", "运行结束时将 Prometheus 指标写入该文本文件")

	combos := &cobra.Command{
		Use:   "combos <input> [output]",
		Short: "Write each row followed by all secondary-diagnosis combinations",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd.Context(), "combos", args)
		},
	}
	combos.Flags().StringVar(&c.shortRows, "short-rows", "", "字段不足的行：pad（补空，默认）或 skip")

	minimal := &cobra.Command{
		Use:   "minimal [-d] <input> [output]",
		Short: "Keep only the rows with the minimal diagnosis count per spell",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd.Context(), "minimal", args)
		},
	}
	minimal.Flags().BoolVarP(&c.debug, "debug", "d", false, "逐行输出判定（输出为 STDOUT 时写 stderr）")
	minimal.Flags().StringVar(&c.replay, "replay", "", "第二遍行源：memory（默认）或 reopen")

	initCfg := &cobra.Command{
		Use:   "init-config [dir]",
		Short: "Write a default spellcombo.yaml (never overwrites)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			path, err := cfgpkg.WriteTemplate(dir)
			if errors.Is(err, os.ErrExist) {
				fmt.Fprintf(c.stderr, "已存在，跳过: %s\n", path)
				return nil
			}
			if err != nil {
				fmt.Fprintf(c.stderr, "生成默认配置失败: %v\n", err)
				return &exitError{code: exitSetup, err: err}
			}
			fmt.Fprintf(c.stdout, "%s\n", path)
			return nil
		},
	}

	root.AddCommand(combos, minimal, initCfg)
	return root
}

// loadConfig 按 默认 → 文件 → ENV → CLI 合并配置。
func (c *cli) loadConfig(command string, args []string) (cfgpkg.Config, error) {
	cfg := cfgpkg.Defaults()
	path := c.configPath
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if path == "" {
		if _, err := os.Stat(cfgpkg.TemplateFile); err == nil {
			path = cfgpkg.TemplateFile
		}
	}
	if path != "" {
		base, err := cfgpkg.LoadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("配置解析失败: %w", err)
		}
		cfg = cfgpkg.Merge(cfg, base)
	}
	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, fmt.Errorf("环境变量解析失败: %w", err)
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	var overCLI cfgpkg.Config
	overCLI.Input = args[0]
	if len(args) > 1 {
		overCLI.Output = args[1]
	}
	overCLI.Delimiter = c.delimiter
	overCLI.Logging.Level = c.logLevel
	overCLI.ShortRows = c.shortRows
	overCLI.Replay = c.replay
	overCLI.Debug = c.debug
	cfg = cfgpkg.Merge(cfg, overCLI)
	if command != "minimal" {
		// 逐行追踪仅对 minimal 有意义
		cfg.Debug = false
	}
	if err := cfgpkg.Validate(cfg); err != nil {
		return cfg, fmt.Errorf("配置校验失败: %w", err)
	}
	return cfg, nil
}

func (c *cli) execute(ctx context.Context, command string, args []string) error {
	start := time.Now()
	corrID := uuid.NewString()

	cfg, err := c.loadConfig(command, args)
	if err != nil {
		fmt.Fprintf(c.stderr, "%v\n", err)
		_ = c.dumpConfig(cfg)
		return &exitError{code: exitSetup, err: err}
	}

	logger := diag.NewLogger(corrID, cfg.Logging.Level, cfg.Logging.Dir)
	defer logger.Close()
	metrics := diag.NewMetrics()
	diag.SetMetrics(metrics)
	defer diag.SetMetrics(nil)

	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		fmt.Fprintf(c.stderr, "装配失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "assemble: "+err.Error(), &start)
		return &exitError{code: exitSetup, err: err}
	}
	if cfg.Debug {
		// 追踪与数据共用 STDOUT 时改写 stderr
		w := c.stdout
		if pipeline.ResolveOutput(set) == "-" {
			w = c.stderr
		}
		set.Tracer = diag.NewTracer(w)
	}

	term := diag.NewTerminal(c.stderr, c.status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	term.RunStart(command, set.Input)

	logger.DebugStart("config", "effective", "", map[string]string{
		"command":     command,
		"input":       set.Input,
		"output":      pipeline.ResolveOutput(set),
		"delimiter":   cfg.Delimiter,
		"replay":      string(set.Replay),
		"short_rows":  string(set.ShortRows),
		"reader":      cfg.Components.Reader,
		"codec":       cfg.Components.Codec,
		"writer":      cfg.Components.Writer,
		"spell_table": cfg.Components.SpellTable,
	})

	timer := logger.StartWith("cli", command, set.Input)
	var res pipeline.Result
	if command == "minimal" {
		res, err = runMinimal(ctx, comp, set, logger)
	} else {
		res, err = runCombos(ctx, comp, set, logger)
	}
	if werr := c.writeMetrics(metrics); werr != nil {
		fmt.Fprintf(c.stderr, "指标写出失败: %v\n", werr)
	}
	if err != nil {
		code := diag.Classify(err)
		logger.Error("cli", string(code), "first error: "+err.Error(), &start)
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(c.stderr, "运行失败: %v (corr_id=%s 日志=%s)\n", err, logger.CorrID(), logger.Path())
		}
		if errors.Is(err, pipeline.ErrSetup) || code == diag.CodeConfig {
			return &exitError{code: exitSetup, err: err}
		}
		return &exitError{code: exitRuntime, err: err}
	}
	timer.FinishKV(command, 0, map[string]string{"output": res.Output})
	return nil
}

func (c *cli) writeMetrics(m *diag.Metrics) error {
	if strings.TrimSpace(c.metricsOut) == "" {
		return nil
	}
	return m.WriteTextfile(c.metricsOut)
}

func (c *cli) dumpConfig(cfg cfgpkg.Config) error {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.stderr, "有效配置:\n%s\n", b)
	return err
}
