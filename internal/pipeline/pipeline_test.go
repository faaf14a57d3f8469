package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"spellcombo/internal/combo"
	"spellcombo/internal/diag"
	"spellcombo/pkg/contract"
	"spellcombo/plugins/codec/delimited"
	rfs "spellcombo/plugins/reader/filesystem"
	"spellcombo/plugins/spelltable/memory"
	wfs "spellcombo/plugins/writer/filesystem"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// 通用装配与桩件 ----------------------------------------------------

func components(t *testing.T, maxRoots int) Components {
	t.Helper()
	r, err := rfs.New(nil)
	require.NoError(t, err)
	c, err := delimited.New(nil)
	require.NoError(t, err)
	w, err := wfs.New(nil)
	require.NoError(t, err)
	return Components{
		Reader: r,
		Codec:  c,
		Writer: w,
		NewSpellTable: func() (contract.SpellTable, error) {
			return memory.New(&memory.Options{MaxRoots: maxRoots})
		},
	}
}

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(b)
}

// stdinReader 以固定内容模拟 STDIN。
type stdinReader struct {
	data  string
	opens int
}

func (r *stdinReader) Open(ctx context.Context, path string) (contract.FileID, io.ReadCloser, error) {
	r.opens++
	return "stdin", io.NopCloser(strings.NewReader(r.data)), nil
}

// memWriter 将工件写入内存；Commit 后可见。
type memWriter struct {
	committed map[string]string
	aborted   int
	failAfter int // >0 时第 n 次 Write 返回错误
}

type memArtifact struct {
	w      *memWriter
	id     string
	buf    bytes.Buffer
	writes int
}

func (w *memWriter) Create(ctx context.Context, id contract.ArtifactID) (contract.Artifact, error) {
	if w.committed == nil {
		w.committed = map[string]string{}
	}
	return &memArtifact{w: w, id: string(id)}, nil
}

func (a *memArtifact) Write(p []byte) (int, error) {
	a.writes++
	if a.w.failAfter > 0 && a.writes >= a.w.failAfter {
		return 0, errors.New("disk full")
	}
	return a.buf.Write(p)
}

func (a *memArtifact) Commit() error { a.w.committed[a.id] = a.buf.String(); return nil }
func (a *memArtifact) Abort() error  { a.w.aborted++; return nil }

// combos ----------------------------------------------------

// TestRunCombosScenario 源行后紧跟组合行；默认输出为 <base>_v2<ext>
func TestRunCombosScenario(t *testing.T) {
	in := writeInput(t, "spells.csv", "PROVSPNO,DIAG_01,DIAG_02,DIAG_03\nS1,A10,B20,\n")
	res, err := RunCombos(context.Background(), components(t, 0), Settings{Input: in}, diag.Nop())
	require.NoError(t, err)

	out := filepath.Join(filepath.Dir(in), "spells_v2.csv")
	assert.Equal(t, out, res.Output)
	want := "PROVSPNO,DIAG_01,DIAG_02,DIAG_03\n" +
		"S1,A10,B20,\n" +
		"S1|Combination|1,A10,,\n" +
		"S1|Combination|2,A10,B20,\n"
	assert.Equal(t, want, readFile(t, out))
	assert.Equal(t, combo.Stats{Source: 1, Combinations: 2}, res.Combos)
}

// TestRunCombosOrdinalAcrossRows 序号跨行连续
func TestRunCombosOrdinalAcrossRows(t *testing.T) {
	in := writeInput(t, "a.csv", "PROVSPNO,DIAG_01,DIAG_02\nS1,A,B\nS2,C,\n")
	out := filepath.Join(t.TempDir(), "out.csv")
	_, err := RunCombos(context.Background(), components(t, 0), Settings{Input: in, Output: out}, nil)
	require.NoError(t, err)
	want := "PROVSPNO,DIAG_01,DIAG_02\n" +
		"S1,A,B\nS1|Combination|1,A,\nS1|Combination|2,A,B\n" +
		"S2,C,\nS2|Combination|3,C,\n"
	assert.Equal(t, want, readFile(t, out))
}

// TestRunCombosMissingColumn 表头缺列为装配错误，不产生输出
func TestRunCombosMissingColumn(t *testing.T) {
	in := writeInput(t, "a.csv", "ID,DIAG_01\nS1,A\n")
	res, err := RunCombos(context.Background(), components(t, 0), Settings{Input: in}, diag.Nop())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSetup)
	assert.ErrorIs(t, err, contract.ErrMissingColumn)
	assert.NoFileExists(t, res.Output)
}

// TestRunCombosWriterFailure 写失败放弃工件
func TestRunCombosWriterFailure(t *testing.T) {
	in := writeInput(t, "a.csv", "PROVSPNO,DIAG_01,DIAG_02\nS1,A,B\n")
	comp := components(t, 0)
	mw := &memWriter{failAfter: 1}
	comp.Writer = mw
	// 编码器缓冲在 Flush 时才触发底层写
	_, err := RunCombos(context.Background(), comp, Settings{Input: in, Output: "x.csv"}, diag.Nop())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSetup)
	assert.Empty(t, mw.committed)
	assert.Equal(t, 1, mw.aborted)
}

// TestRunCombosSameOutput 输出覆盖输入被拒绝
func TestRunCombosSameOutput(t *testing.T) {
	in := writeInput(t, "a.csv", "PROVSPNO,DIAG_01\nS1,A\n")
	_, err := RunCombos(context.Background(), components(t, 0), Settings{Input: in, Output: in}, nil)
	assert.ErrorIs(t, err, ErrSetup)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	assert.Equal(t, "PROVSPNO,DIAG_01\nS1,A\n", readFile(t, in))
}

// TestRunCombosCanceled 取消上下文中止运行
func TestRunCombosCanceled(t *testing.T) {
	in := writeInput(t, "a.csv", "PROVSPNO,DIAG_01\nS1,A\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RunCombos(ctx, components(t, 0), Settings{Input: in}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestRunCombosStdinToStdout STDIN 输入默认写 STDOUT
func TestRunCombosStdinToStdout(t *testing.T) {
	comp := components(t, 0)
	comp.Reader = &stdinReader{data: "PROVSPNO,DIAG_01\nS1,A\n"}
	mw := &memWriter{}
	comp.Writer = mw
	res, err := RunCombos(context.Background(), comp, Settings{Input: "-"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "-", res.Output)
	assert.Equal(t, "PROVSPNO,DIAG_01\nS1,A\nS1|Combination|1,A\n", mw.committed["-"])
}

// TestRunCombosShortRows 短行补齐或跳过
func TestRunCombosShortRows(t *testing.T) {
	in := writeInput(t, "a.csv", "PROVSPNO,DIAG_01,DIAG_02\nS1,A\nS2,B,\n")
	out := filepath.Join(t.TempDir(), "o.csv")
	res, err := RunCombos(context.Background(), components(t, 0),
		Settings{Input: in, Output: out, ShortRows: combo.ShortRowsSkip}, diag.Nop())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Combos.Malformed)
	assert.Equal(t, "PROVSPNO,DIAG_01,DIAG_02\nS2,B,\nS2|Combination|1,B,\n", readFile(t, out))

	res, err = RunCombos(context.Background(), components(t, 0),
		Settings{Input: in, Output: out}, diag.Nop())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Combos.Source)
	assert.Contains(t, readFile(t, out), "S1|Combination|1,A,\n")
}

// minimal ----------------------------------------------------

const minimalInput = "PROVSPNO,DIAG_01,DIAG_02,DIAG_03\n" +
	"S1,A10,,\n" +
	"S1|Combination|2,A10,B20,\n" +
	"S2,A,B,C\n" +
	"S3,X,,\n" +
	"S2|Combination|9,A,B,D\n" +
	"S2|Combination|10,A,,\n"

const minimalWant = "PROVSPNO,DIAG_01,DIAG_02,DIAG_03\n" +
	"S1,A10,,\n" +
	"S3,X,,\n" +
	"S2|Combination|10,A,,\n"

// TestRunMinimalReplayModes memory 与 reopen 两种重放输出一致
func TestRunMinimalReplayModes(t *testing.T) {
	in := writeInput(t, "m.csv", minimalInput)
	for _, mode := range []ReplayMode{ReplayMemory, ReplayReopen} {
		t.Run(string(mode), func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "m_out.csv")
			res, err := RunMinimal(context.Background(), components(t, 0),
				Settings{Input: in, Output: out, Replay: mode}, diag.Nop())
			require.NoError(t, err)
			assert.Equal(t, minimalWant, readFile(t, out))
			assert.Equal(t, 3, res.Roots)
			assert.Equal(t, uint64(6), res.Filter.Total)
			assert.Equal(t, uint64(3), res.Filter.Written)
			assert.Equal(t, uint64(3), res.Filter.Skipped)
		})
	}
}

// TestRunMinimalStdinForcesMemory STDIN 只能读一次
func TestRunMinimalStdinForcesMemory(t *testing.T) {
	comp := components(t, 0)
	sr := &stdinReader{data: minimalInput}
	comp.Reader = sr
	mw := &memWriter{}
	comp.Writer = mw
	_, err := RunMinimal(context.Background(), comp, Settings{Input: "-", Replay: ReplayReopen}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sr.opens)
	assert.Equal(t, minimalWant, mw.committed["-"])
}

// TestRunMinimalDefaultOutput 默认输出路径
func TestRunMinimalDefaultOutput(t *testing.T) {
	in := writeInput(t, "diag.txt", minimalInput)
	res, err := RunMinimal(context.Background(), components(t, 0), Settings{Input: in}, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(in), "diag_v2.txt"), res.Output)
	assert.Equal(t, minimalWant, readFile(t, res.Output))
}

// TestRunMinimalMalformed 短行跳过且不计入病程表
func TestRunMinimalMalformed(t *testing.T) {
	in := writeInput(t, "m.csv", "PROVSPNO,DIAG_01,DIAG_02\nS1,A\nS1,A,B\n")
	out := filepath.Join(t.TempDir(), "o.csv")
	res, err := RunMinimal(context.Background(), components(t, 0),
		Settings{Input: in, Output: out}, diag.Nop())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Aggregate.Malformed)
	assert.Equal(t, "PROVSPNO,DIAG_01,DIAG_02\nS1,A,B\n", readFile(t, out))
}

// TestRunMinimalOverlongTruncated 长行参与统计，写出时截到表头宽度
func TestRunMinimalOverlongTruncated(t *testing.T) {
	in := writeInput(t, "m.csv", "PROVSPNO,DIAG_01,DIAG_02\nS1,A,,EXTRA\nS1|Combination|1,A,B,X,Y\nS2,C,D\n")
	for _, mode := range []ReplayMode{ReplayMemory, ReplayReopen} {
		t.Run(string(mode), func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "o.csv")
			res, err := RunMinimal(context.Background(), components(t, 0),
				Settings{Input: in, Output: out, Replay: mode}, diag.Nop())
			require.NoError(t, err)
			assert.Zero(t, res.Aggregate.Malformed)
			assert.Equal(t, uint64(2), res.Filter.Written)
			assert.Equal(t, "PROVSPNO,DIAG_01,DIAG_02\nS1,A,\nS2,C,D\n", readFile(t, out))
		})
	}
}

// TestRunMinimalCapacity 病程表满时新根行作为孤儿丢弃，运行仍成功
func TestRunMinimalCapacity(t *testing.T) {
	in := writeInput(t, "m.csv", "PROVSPNO,DIAG_01\nS1,A\nS2,B\nS1|Combination|1,A\n")
	out := filepath.Join(t.TempDir(), "o.csv")
	res, err := RunMinimal(context.Background(), components(t, 1),
		Settings{Input: in, Output: out}, diag.Nop())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Aggregate.Unstored)
	assert.Equal(t, uint64(1), res.Filter.Orphan)
	assert.Equal(t, 1, res.Roots)
	assert.Equal(t, "PROVSPNO,DIAG_01\nS1,A\nS1|Combination|1,A\n", readFile(t, out))
}

// TestRunMinimalNoDiagColumns 无 DIAG_01 列
func TestRunMinimalNoDiagColumns(t *testing.T) {
	in := writeInput(t, "m.csv", "PROVSPNO,OTHER\nS1,A\n")
	_, err := RunMinimal(context.Background(), components(t, 0), Settings{Input: in}, nil)
	assert.ErrorIs(t, err, ErrSetup)
	assert.ErrorIs(t, err, contract.ErrMissingColumn)
}

// TestRunMinimalTableFactoryError 病程表创建失败为装配错误
func TestRunMinimalTableFactoryError(t *testing.T) {
	in := writeInput(t, "m.csv", minimalInput)
	comp := components(t, 0)
	comp.NewSpellTable = func() (contract.SpellTable, error) { return nil, errors.New("boom") }
	_, err := RunMinimal(context.Background(), comp, Settings{Input: in}, nil)
	assert.ErrorIs(t, err, ErrSetup)
}

// TestRunMinimalTracer 调试追踪逐行输出判定
func TestRunMinimalTracer(t *testing.T) {
	in := writeInput(t, "m.csv", minimalInput)
	var buf bytes.Buffer
	out := filepath.Join(t.TempDir(), "o.csv")
	_, err := RunMinimal(context.Background(), components(t, 0),
		Settings{Input: in, Output: out, Tracer: diag.NewTracer(&buf)}, nil)
	require.NoError(t, err)
	s := buf.String()
	assert.Contains(t, s, "layout")
	assert.Equal(t, 6, strings.Count(s, "row"))
	assert.Contains(t, s, "S2|Combination|9")
}

// TestRunMinimalWriterFailure 第二遍写失败放弃工件
func TestRunMinimalWriterFailure(t *testing.T) {
	in := writeInput(t, "m.csv", minimalInput)
	comp := components(t, 0)
	mw := &memWriter{failAfter: 1}
	comp.Writer = mw
	_, err := RunMinimal(context.Background(), comp, Settings{Input: in, Output: "o.csv"}, nil)
	require.Error(t, err)
	assert.Empty(t, mw.committed)
	assert.Equal(t, 1, mw.aborted)
}

// 辅助函数 ----------------------------------------------------

func TestParseReplay(t *testing.T) {
	m, err := ParseReplay("")
	require.NoError(t, err)
	assert.Equal(t, ReplayMemory, m)
	m, err = ParseReplay("reopen")
	require.NoError(t, err)
	assert.Equal(t, ReplayReopen, m)
	_, err = ParseReplay("disk")
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestResolveOutput(t *testing.T) {
	assert.Equal(t, "-", ResolveOutput(Settings{Input: "-"}))
	assert.Equal(t, "x.csv", ResolveOutput(Settings{Input: "-", Output: "x.csv"}))
	assert.Equal(t, filepath.Join("d", "a_v2.csv"), ResolveOutput(Settings{Input: filepath.Join("d", "a.csv")}))
}
