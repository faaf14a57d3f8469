package diag

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// 指标（私有 Registry，不暴露 HTTP，结束时可写出为文本文件）：
// - spellcombo_op_total{comp,stage,result}
// - spellcombo_error_total{comp,code}
// - spellcombo_op_duration_ms{comp,stage}
// - spellcombo_rows_total{stage,outcome}
type Metrics struct {
	reg  *prometheus.Registry
	ops  *prometheus.CounterVec
	errs *prometheus.CounterVec
	dur  *prometheus.HistogramVec
	rows *prometheus.CounterVec
}

// NewMetrics 创建并注册全部指标。
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spellcombo",
			Name:      "op_total",
			Help:      "Operations by component, stage and result.",
		}, []string{"comp", "stage", "result"}),
		errs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spellcombo",
			Name:      "error_total",
			Help:      "Errors by component and classification code.",
		}, []string{"comp", "code"}),
		dur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "spellcombo",
			Name:      "op_duration_ms",
			Help:      "Stage duration in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"comp", "stage"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spellcombo",
			Name:      "rows_total",
			Help:      "Rows by pipeline stage and outcome.",
		}, []string{"stage", "outcome"}),
	}
	m.reg.MustRegister(m.ops, m.errs, m.dur, m.rows)
	return m
}

// Registry 返回底层 Registry（测试与导出用）。
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// AddRows 按阶段与结果累加行数；n=0 时仍创建时间序列，便于导出完整的零值。
func (m *Metrics) AddRows(stage, outcome string, n uint64) {
	if m == nil {
		return
	}
	m.rows.WithLabelValues(stage, outcome).Add(float64(n))
}

// WriteTextfile 以 Prometheus 文本格式写出全部指标（原子替换）。
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}

var active atomic.Pointer[Metrics]

// SetMetrics 设置进程级指标实例（nil 清除，之后的记录为 no-op）。
func SetMetrics(m *Metrics) { active.Store(m) }

// GetMetrics 返回进程级指标实例（可能为 nil）。
func GetMetrics() *Metrics { return active.Load() }

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	if m := active.Load(); m != nil {
		m.ops.WithLabelValues(comp, stage, result).Inc()
	}
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	if m := active.Load(); m != nil {
		m.errs.WithLabelValues(comp, code).Inc()
	}
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	if m := active.Load(); m != nil {
		m.dur.WithLabelValues(comp, stage).Observe(float64(durMS))
	}
}

// AddRows 向进程级指标累加行数。
func AddRows(stage, outcome string, n uint64) {
	active.Load().AddRows(stage, outcome, n)
}
