package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"spellcombo/internal/diag"
	"spellcombo/internal/minimal"
	"spellcombo/pkg/contract"
)

// RunMinimal 执行两遍筛选：
// 第一遍 Reader → Codec.Scan → minimal.Aggregator（病程表）；
// 第二遍 Replay → minimal.Filter → Codec.Encoder → Writer。
// 输出保持输入顺序，并列最小行全部保留。
func RunMinimal(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Result, error) {
	var res Result
	if err := sanity(comp, set, true); err != nil {
		return res, fmt.Errorf("%w: sanity: %w", ErrSetup, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runStart := time.Now()
	res.Output = ResolveOutput(set)
	table, err := comp.NewSpellTable()
	if err != nil {
		return res, fail(logger, "spell_table", "create", "", nil, fmt.Errorf("%w: %w", ErrSetup, err))
	}
	defer table.Close()

	src, err := openSource(ctx, comp, set.Input)
	if err != nil {
		return res, fail(logger, "reader", "open", set.Input, nil, fmt.Errorf("%w: %w", ErrSetup, err))
	}
	defer src.Close()
	res.FileID = src.fileID
	fid := string(src.fileID)

	term := diag.GetTerminal()
	ok := false
	if term != nil {
		defer func() { term.RunFinish(ok, time.Since(runStart), filterSummary(res.Filter)) }()
	}

	replay, mode := newReplay(set.Replay, comp, set.Input, src.scan)
	agg, err := aggregate(ctx, src, table, replay, logger, term)
	res.Aggregate = agg.Stats()
	res.Roots = table.Len()
	if err != nil {
		return res, err
	}
	// reopen 模式下第一遍的输入句柄不再需要
	_ = src.Close()

	art, enc, err := createOutput(ctx, comp, res.Output, src.scan.RawHeader())
	if err != nil {
		return res, fail(logger, "writer", "create", res.Output, nil, err)
	}
	if set.Tracer != nil {
		set.Tracer.Layout(src.layout)
	}
	var trace minimal.Trace
	if set.Tracer != nil {
		trace = set.Tracer.Row
	}
	f := minimal.NewFilter(src.layout, table, trace)
	if err := filter(ctx, fid, mode, f, src.layout.Width(), replay, enc, logger, term); err != nil {
		_ = art.Abort()
		res.Filter = f.Stats()
		return res, err
	}
	res.Filter = f.Stats()
	if err := finishOutput(art, enc); err != nil {
		return res, fail(logger, "writer", "commit", res.Output, nil, err)
	}
	if set.Tracer != nil {
		_ = set.Tracer.Sync()
	}
	diag.IncOp("minimal", "finish", "success")
	diag.ObserveDuration("minimal", "run", time.Since(runStart).Milliseconds())
	ok = true
	return res, nil
}

// aggregate 执行第一遍：逐行计入病程表并登记重放。
func aggregate(ctx context.Context, src *source, table contract.SpellTable, replay Replay, logger *diag.Logger, term *diag.Terminal) (*minimal.Aggregator, error) {
	fid := string(src.fileID)
	if term != nil {
		term.StageStart("pass1")
	}
	var timer *diag.Timer
	if logger != nil {
		timer = logger.StartWithKV("aggregator", "pass1", fid, map[string]string{
			"diag_slots": strconv.Itoa(src.layout.DiagSlots()),
		})
	}
	agg := minimal.NewAggregator(src.layout, table)
	warner := &rowWarner{logger: logger, comp: "aggregator", fileID: fid}
	var rows uint64
	for {
		rec, err := src.scan.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return agg, fail(logger, "reader", "scan", fid, timer, err)
		}
		rows++
		if term != nil && rows%progressEvery == 0 {
			term.Progress(rows)
		}
		if rows%progressEvery == 0 {
			if err := ctx.Err(); err != nil {
				return agg, fail(logger, "aggregator", "pass1", fid, timer, err)
			}
		}
		err = agg.Observe(ctx, rec)
		switch {
		case err == nil:
			replay.Keep(rec)
		case errors.Is(err, contract.ErrRowMalformed):
			warner.warn(err, rec.Line)
		case errors.Is(err, contract.ErrCapacity):
			// 仅首次告警；行仍进入第二遍并作为孤儿丢弃
			if agg.Stats().Unstored == 1 && logger != nil {
				logger.Warn("aggregator", string(diag.CodeCapacity), err.Error(), fid, map[string]string{
					"roots": strconv.Itoa(table.Len()),
				})
			}
			diag.IncError("aggregator", string(diag.CodeCapacity))
			replay.Keep(rec)
		default:
			return agg, fail(logger, "spell_table", "observe", fid, timer, err)
		}
	}
	st := agg.Stats()
	diag.AddRows("pass1", "counted", st.Rows)
	diag.AddRows("pass1", "malformed", st.Malformed)
	diag.AddRows("pass1", "unstored", st.Unstored)
	if timer != nil {
		timer.FinishKV("pass1", int64(st.Rows), map[string]string{
			"roots":      strconv.Itoa(table.Len()),
			"malformed":  u64(st.Malformed),
			"unstored":   u64(st.Unstored),
			"table_full": strconv.FormatBool(agg.Full()),
		})
	}
	return agg, nil
}

// filter 执行第二遍：按病程表判定并写出保留行，超出表头宽度的尾部字段截去。
func filter(ctx context.Context, fid string, mode ReplayMode, f *minimal.Filter, width int, replay Replay, enc contract.RowEncoder, logger *diag.Logger, term *diag.Terminal) error {
	if term != nil {
		term.StageStart("pass2")
	}
	var timer *diag.Timer
	if logger != nil {
		timer = logger.StartWithKV("filter", "pass2", fid, map[string]string{"replay": string(mode)})
	}
	scan, closer, err := replay.Open(ctx)
	if err != nil {
		return fail(logger, "reader", "replay", fid, timer, err)
	}
	defer closer.Close()
	var rows uint64
	for {
		rec, err := scan.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(logger, "reader", "scan", fid, timer, err)
		}
		rows++
		if rows%progressEvery == 0 {
			if term != nil {
				term.Progress(rows)
			}
			if err := ctx.Err(); err != nil {
				return fail(logger, "filter", "pass2", fid, timer, err)
			}
		}
		keep, err := f.Keep(ctx, rec)
		if err != nil {
			// 短行已在第一遍告警（reopen 模式会再次读到）
			if errors.Is(err, contract.ErrRowMalformed) {
				continue
			}
			return fail(logger, "spell_table", "lookup", fid, timer, err)
		}
		if !keep {
			continue
		}
		if err := enc.WriteRow(rec.Fields[:width]); err != nil {
			return fail(logger, "writer", "write", fid, timer, err)
		}
	}
	st := f.Stats()
	diag.AddRows("pass2", "total", st.Total)
	diag.AddRows("pass2", "written", st.Written)
	diag.AddRows("pass2", "skipped", st.Skipped)
	diag.AddRows("pass2", "malformed", st.Malformed)
	diag.AddRows("pass2", "orphan", st.Orphan)
	if timer != nil {
		timer.FinishKV("pass2", int64(st.Written), map[string]string{
			"total":     u64(st.Total),
			"skipped":   u64(st.Skipped),
			"malformed": u64(st.Malformed),
			"orphan":    u64(st.Orphan),
		})
	}
	return nil
}

func filterSummary(st minimal.FilterStats) string {
	return fmt.Sprintf("total=%d written=%d skipped=%d orphan=%d", st.Total, st.Written, st.Skipped, st.Orphan)
}
