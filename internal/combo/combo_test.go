package combo

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spellcombo/pkg/contract"
)

func layoutOf(t *testing.T, header ...string) contract.Layout {
	t.Helper()
	l, err := contract.NewLayout(header)
	require.NoError(t, err)
	return l
}

// collect 返回保存行副本的 EmitFunc。
func collect(out *[][]string) EmitFunc {
	return func(fields []string) error {
		*out = append(*out, append([]string(nil), fields...))
		return nil
	}
}

func rec(line int64, fields ...string) contract.Record {
	return contract.Record{Line: line, Fields: fields}
}

// diagHeader 生成 PROVSPNO + DIAG_01..DIAG_n + 尾随列 AGE。
func diagHeader(n int) []string {
	h := []string{"PROVSPNO"}
	for i := 1; i <= n; i++ {
		h = append(h, fmt.Sprintf("DIAG_%02d", i))
	}
	return append(h, "AGE")
}

// fullRow 填满 k 个次诊断。
func fullRow(id string, slots, k int) []string {
	r := []string{id, "P00"}
	for i := 1; i < slots; i++ {
		if i <= k {
			r = append(r, fmt.Sprintf("C%02d", i))
		} else {
			r = append(r, "")
		}
	}
	return append(r, "42")
}

func TestExpandScenarioSingleSecondary(t *testing.T) {
	l := layoutOf(t, "PROVSPNO", "DIAG_01", "DIAG_02", "DIAG_03")
	g := New(l, Options{})
	var got [][]string
	require.NoError(t, g.Expand(context.Background(), rec(2, "S1", "A10", "B20", ""), collect(&got)))

	want := [][]string{
		{"S1", "A10", "B20", ""},
		{"S1|Combination|1", "A10", "", ""},
		{"S1|Combination|2", "A10", "B20", ""},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, Stats{Source: 1, Combinations: 2}, g.Stats())
}

func TestExpandPrimaryOnly(t *testing.T) {
	l := layoutOf(t, "PROVSPNO", "DIAG_01", "DIAG_02")
	g := New(l, Options{})
	var got [][]string
	require.NoError(t, g.Expand(context.Background(), rec(2, "S9", "A10", ""), collect(&got)))
	want := [][]string{
		{"S9", "A10", ""},
		{"S9|Combination|1", "A10", ""},
	}
	assert.Equal(t, want, got)
}

// TestExpandCountsAndInvariants 2^k+1 行；主诊断、根、其他列不变
func TestExpandCountsAndInvariants(t *testing.T) {
	const slots = 8
	l := layoutOf(t, diagHeader(slots)...)
	for k := 0; k < slots; k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			g := New(l, Options{})
			src := fullRow("R1", slots, k)
			var got [][]string
			require.NoError(t, g.Expand(context.Background(), rec(2, src...), collect(&got)))
			require.Len(t, got, (1<<k)+1)
			assert.Equal(t, src, got[0])
			for _, row := range got[1:] {
				assert.Equal(t, "P00", row[l.DiagFrom])
				root, _, ok := contract.ParseAnnotation(row[l.Spell])
				assert.True(t, ok)
				assert.Equal(t, "R1", root)
				assert.Equal(t, "42", row[len(row)-1])
			}
		})
	}
}

// TestExpandMaskOrder 掩码递增，第 j 位对应第 j 个已填充次诊断
func TestExpandMaskOrder(t *testing.T) {
	l := layoutOf(t, "PROVSPNO", "DIAG_01", "DIAG_02", "DIAG_03", "DIAG_04", "DIAG_05")
	g := New(l, Options{})
	var got [][]string
	// 次诊断分布在 DIAG_02、DIAG_04、DIAG_05，DIAG_03 为空
	require.NoError(t, g.Expand(context.Background(), rec(2, "S1", "A", "B", "", "C", "D"), collect(&got)))
	require.Len(t, got, 9)
	for mask, row := range got[1:] {
		want := []string{contract.AnnotateSpell("S1", uint64(mask+1)), "A", "", "", "", ""}
		if mask&1 != 0 {
			want[2] = "B"
		}
		if mask&2 != 0 {
			want[4] = "C"
		}
		if mask&4 != 0 {
			want[5] = "D"
		}
		assert.Equal(t, want, row, "mask %d", mask)
	}
}

// TestRootVerbatim 已注释的源标识不再提取根，原样拼接
func TestRootVerbatim(t *testing.T) {
	l := layoutOf(t, "PROVSPNO", "DIAG_01")
	g := New(l, Options{})
	var got [][]string
	require.NoError(t, g.Expand(context.Background(), rec(2, "S1|Combination|2", "A"), collect(&got)))
	require.Len(t, got, 2)
	assert.Equal(t, "S1|Combination|2|Combination|1", got[1][0])
	assert.Equal(t, "S1", contract.SpellRoot(got[1][0]))
}

// TestOrdinalContinuous 序号跨行连续，不按行重置
func TestOrdinalContinuous(t *testing.T) {
	l := layoutOf(t, "PROVSPNO", "DIAG_01", "DIAG_02", "DIAG_03")
	g := New(l, Options{})
	var got [][]string
	ctx := context.Background()
	require.NoError(t, g.Expand(ctx, rec(2, "S1", "A", "B", "C"), collect(&got)))
	require.NoError(t, g.Expand(ctx, rec(3, "S2", "A", "", ""), collect(&got)))
	require.NoError(t, g.Expand(ctx, rec(4, "S3", "A", "B", ""), collect(&got)))

	var ords []uint64
	for _, row := range got {
		if _, n, ok := contract.ParseAnnotation(row[0]); ok {
			ords = append(ords, n)
		}
	}
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7}, ords)
	assert.Equal(t, uint64(7), g.LastOrdinal())
}

// TestOrdinalPerGenerator 两个 Generator 互不共享序号
func TestOrdinalPerGenerator(t *testing.T) {
	l := layoutOf(t, "PROVSPNO", "DIAG_01", "DIAG_02")
	ctx := context.Background()
	a, b := New(l, Options{}), New(l, Options{})
	var ga, gb [][]string
	require.NoError(t, a.Expand(ctx, rec(2, "S1", "A", "B"), collect(&ga)))
	require.NoError(t, b.Expand(ctx, rec(2, "S1", "A", "B"), collect(&gb)))
	assert.Equal(t, ga, gb)
	assert.Equal(t, "S1|Combination|1", gb[1][0])
}

// TestExpandCapped 次诊断超过上限：仅源行
func TestExpandCapped(t *testing.T) {
	const slots = MaxSecondary + 2
	l := layoutOf(t, diagHeader(slots)...)
	g := New(l, Options{})
	src := fullRow("S1", slots, MaxSecondary+1)
	var got [][]string
	err := g.Expand(context.Background(), rec(2, src...), collect(&got))
	require.ErrorIs(t, err, contract.ErrTooManySecondary)
	assert.Equal(t, [][]string{src}, got)
	assert.Equal(t, Stats{Source: 1, Capped: 1}, g.Stats())
	assert.Equal(t, uint64(0), g.LastOrdinal())
}

// TestExpandAtCap k=20 时展开 2^20 行
func TestExpandAtCap(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	const slots = MaxSecondary + 1
	l := layoutOf(t, diagHeader(slots)...)
	g := New(l, Options{})
	var n int
	var last string
	emit := func(fields []string) error {
		n++
		last = fields[0]
		if fields[1] != "P00" {
			return errors.New("primary changed")
		}
		return nil
	}
	require.NoError(t, g.Expand(context.Background(), rec(2, fullRow("S1", slots, MaxSecondary)...), emit))
	assert.Equal(t, (1<<MaxSecondary)+1, n)
	assert.Equal(t, contract.AnnotateSpell("S1", 1<<MaxSecondary), last)
}

func TestShortRows(t *testing.T) {
	l := layoutOf(t, "PROVSPNO", "DIAG_01", "DIAG_02", "DIAG_03")
	ctx := context.Background()

	t.Run("pad", func(t *testing.T) {
		g := New(l, Options{ShortRows: ShortRowsPad})
		var got [][]string
		require.NoError(t, g.Expand(ctx, rec(2, "S1", "A", "B"), collect(&got)))
		require.Len(t, got, 3)
		assert.Equal(t, []string{"S1", "A", "B", ""}, got[0])
		assert.Equal(t, []string{"S1|Combination|1", "A", "", ""}, got[1])
	})
	t.Run("skip", func(t *testing.T) {
		g := New(l, Options{ShortRows: ShortRowsSkip})
		var got [][]string
		err := g.Expand(ctx, rec(2, "S1", "A", "B"), collect(&got))
		assert.ErrorIs(t, err, contract.ErrRowMalformed)
		assert.Empty(t, got)
		assert.Equal(t, uint64(1), g.Stats().Malformed)
	})
}

func TestOverlongRow(t *testing.T) {
	l := layoutOf(t, "PROVSPNO", "DIAG_01")
	g := New(l, Options{})
	var got [][]string
	err := g.Expand(context.Background(), rec(5, "S1", "A", "extra"), collect(&got))
	assert.ErrorIs(t, err, contract.ErrRowMalformed)
	assert.Empty(t, got)
	assert.Equal(t, uint64(0), g.LastOrdinal())
}

func TestEmitErrorStops(t *testing.T) {
	l := layoutOf(t, "PROVSPNO", "DIAG_01", "DIAG_02")
	g := New(l, Options{})
	boom := errors.New("disk full")
	calls := 0
	err := g.Expand(context.Background(), rec(2, "S1", "A", "B"), func([]string) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestExpandCanceled(t *testing.T) {
	const slots = 14
	l := layoutOf(t, diagHeader(slots)...)
	g := New(l, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Expand(ctx, rec(2, fullRow("S1", slots, slots-1)...), func([]string) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseShortRows(t *testing.T) {
	for in, want := range map[string]ShortRowPolicy{"": ShortRowsPad, "pad": ShortRowsPad, "skip": ShortRowsSkip} {
		got, err := ParseShortRows(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseShortRows("drop")
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}
