package testdata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	cfgpkg "spellcombo/internal/config"
	"spellcombo/internal/pipeline"
)

func fixture(name string) string { return filepath.Join("files", name) }

func readLines(t *testing.T, p string) []string {
	t.Helper()
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
}

// baseConfig 以模板为底构造可运行配置。
func baseConfig(input, output string) cfgpkg.Config {
	cfg := cfgpkg.Merge(cfgpkg.Defaults(), cfgpkg.DefaultTemplateConfig())
	cfg.Input = input
	cfg.Output = output
	cfg.Logging.Level = "error"
	return cfg
}

// TestE2ECombos 配置驱动的 combos 全链路
func TestE2ECombos(t *testing.T) {
	out := filepath.Join(t.TempDir(), "combos.csv")
	comp, set, err := cfgpkg.Assemble(baseConfig(fixture("spells.csv"), out))
	require.NoError(t, err)
	res, err := pipeline.RunCombos(context.Background(), comp, set, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(3), res.Combos.Source)
	require.Equal(t, uint64(7), res.Combos.Combinations)
	if diff := cmp.Diff(readLines(t, fixture("spells_combos.csv")), readLines(t, out)); diff != "" {
		t.Fatalf("combos output mismatch (-want +got):\n%s", diff)
	}
}

// TestE2EMinimalMatrix 病程表 × 重放方式 四种组合输出一致
func TestE2EMinimalMatrix(t *testing.T) {
	want := readLines(t, fixture("spells_minimal.csv"))
	for _, table := range []string{"memory", "sqlite"} {
		for _, replay := range []string{"memory", "reopen"} {
			t.Run(fmt.Sprintf("%s_%s", table, replay), func(t *testing.T) {
				dir := t.TempDir()
				out := filepath.Join(dir, "minimal.csv")
				cfg := baseConfig(fixture("spells_combos.csv"), out)
				cfg.Components.SpellTable = table
				cfg.Replay = replay
				if table == "sqlite" {
					cfg.Options.SpellTable = json.RawMessage(fmt.Sprintf(`{"dir":%q,"max_roots":0}`, dir))
				}
				comp, set, err := cfgpkg.Assemble(cfg)
				require.NoError(t, err)
				res, err := pipeline.RunMinimal(context.Background(), comp, set, nil)
				require.NoError(t, err)
				require.Equal(t, 3, res.Roots)
				if diff := cmp.Diff(want, readLines(t, out)); diff != "" {
					t.Fatalf("minimal output mismatch (-want +got):\n%s", diff)
				}
				// 临时病程表在运行结束后清理
				left, _ := filepath.Glob(filepath.Join(dir, "spellcombo-*.db*"))
				require.Empty(t, left)
			})
		}
	}
}

// TestE2EMinimalIdempotent 对最小输出再次筛选结果不变
func TestE2EMinimalIdempotent(t *testing.T) {
	out := filepath.Join(t.TempDir(), "again.csv")
	comp, set, err := cfgpkg.Assemble(baseConfig(fixture("spells_minimal.csv"), out))
	require.NoError(t, err)
	_, err = pipeline.RunMinimal(context.Background(), comp, set, nil)
	require.NoError(t, err)
	if diff := cmp.Diff(readLines(t, fixture("spells_minimal.csv")), readLines(t, out)); diff != "" {
		t.Fatalf("idempotence (-want +got):\n%s", diff)
	}
}

// TestE2ECRLFAndDelimiter CRLF 输入与分号分隔
func TestE2ECRLFAndDelimiter(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "semi.csv")
	require.NoError(t, os.WriteFile(in, []byte("PROVSPNO;DIAG_01;DIAG_02\r\nS1;A;B\r\n"), 0o644))
	out := filepath.Join(dir, "semi_out.csv")
	cfg := baseConfig(in, out)
	cfg.Delimiter = ";"
	comp, set, err := cfgpkg.Assemble(cfg)
	require.NoError(t, err)
	_, err = pipeline.RunCombos(context.Background(), comp, set, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"PROVSPNO;DIAG_01;DIAG_02", "S1;A;B", "S1|Combination|1;A;", "S1|Combination|2;A;B"}, readLines(t, out))
}
