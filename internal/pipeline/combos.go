package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"spellcombo/internal/combo"
	"spellcombo/internal/diag"
	"spellcombo/pkg/contract"
)

// RunCombos 执行组合展开：Reader → Codec.Scan → combo.Generator → Codec.Encoder → Writer。
// 每条源行原样写出后紧跟其全部组合行；序号在整个运行内连续。
func RunCombos(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Result, error) {
	var res Result
	if err := sanity(comp, set, false); err != nil {
		return res, fmt.Errorf("%w: sanity: %w", ErrSetup, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runStart := time.Now()
	res.Output = ResolveOutput(set)
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
		term.StageStart("expand")
		defer func() { term.RunFinish(ok, time.Since(runStart), comboSummary(res.Combos)) }()
	}

	art, enc, err := createOutput(ctx, comp, res.Output, src.scan.RawHeader())
	if err != nil {
		return res, fail(logger, "writer", "create", res.Output, nil, err)
	}

	var timer *diag.Timer
	if logger != nil {
		timer = logger.StartWithKV("combos", "expand", fid, map[string]string{
			"output":     res.Output,
			"short_rows": string(set.ShortRows),
			"diag_slots": fmt.Sprintf("%d", src.layout.DiagSlots()),
		})
	}
	gen := combo.New(src.layout, combo.Options{ShortRows: set.ShortRows})
	warner := &rowWarner{logger: logger, comp: "combos", fileID: fid}
	var rows uint64
	for {
		rec, err := src.scan.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = art.Abort()
			return res, fail(logger, "reader", "scan", fid, timer, err)
		}
		rows++
		if term != nil && rows%progressEvery == 0 {
			term.Progress(rows)
		}
		err = gen.Expand(ctx, rec, enc.WriteRow)
		if err == nil {
			continue
		}
		if errors.Is(err, contract.ErrRowMalformed) || errors.Is(err, contract.ErrTooManySecondary) {
			warner.warn(err, rec.Line)
			continue
		}
		_ = art.Abort()
		res.Combos = gen.Stats()
		return res, fail(logger, "combos", "expand", fid, timer, err)
	}
	if err := finishOutput(art, enc); err != nil {
		res.Combos = gen.Stats()
		return res, fail(logger, "writer", "commit", res.Output, timer, err)
	}
	res.Combos = gen.Stats()
	st := res.Combos
	diag.AddRows("combos", "source", st.Source)
	diag.AddRows("combos", "combination", st.Combinations)
	diag.AddRows("combos", "capped", st.Capped)
	diag.AddRows("combos", "malformed", st.Malformed)
	if timer != nil {
		timer.FinishKV("expand", int64(st.Source+st.Combinations), map[string]string{
			"source":       u64(st.Source),
			"combinations": u64(st.Combinations),
			"capped":       u64(st.Capped),
			"malformed":    u64(st.Malformed),
			"last_ordinal": u64(gen.LastOrdinal()),
		})
	}
	diag.IncOp("combos", "finish", "success")
	diag.ObserveDuration("combos", "expand", time.Since(runStart).Milliseconds())
	ok = true
	return res, nil
}

func comboSummary(st combo.Stats) string {
	return fmt.Sprintf("source=%d combinations=%d capped=%d malformed=%d", st.Source, st.Combinations, st.Capped, st.Malformed)
}
