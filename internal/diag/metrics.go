package diag

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// 进程级指标，注册在独立 Registry 上（不污染默认注册表）：
// - op_total{comp,stage,result}
// - error_total{comp,code}
// - op_duration_ms{comp,stage}
// - normalizer_repairs_total{pass,variant}
var (
	Registry = prometheus.NewRegistry()

	opTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autosctype",
		Name:      "op_total",
		Help:      "Stage operations by result.",
	}, []string{"comp", "stage", "result"})

	errorTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autosctype",
		Name:      "error_total",
		Help:      "Errors by component and classified code.",
	}, []string{"comp", "code"})

	opDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "autosctype",
		Name:      "op_duration_ms",
		Help:      "Stage duration in milliseconds.",
		Buckets:   []float64{1, 5, 25, 100, 500, 2000, 10000, 60000},
	}, []string{"comp", "stage"})

	repairsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autosctype",
		Name:      "normalizer_repairs_total",
		Help:      "Normalizer repairs by pass and variant.",
	}, []string{"pass", "variant"})
)

func init() {
	Registry.MustRegister(opTotal, errorTotal, opDuration, repairsTotal)
}

// IncOp 累加操作计数（result=success|error|skip）。
func IncOp(comp, stage, result string) {
	opTotal.WithLabelValues(comp, stage, result).Inc()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	errorTotal.WithLabelValues(comp, code).Inc()
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	opDuration.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// AddRepairs 按修复步骤累加规范化修复次数；零值不写入。
func AddRepairs(variant string, repairs map[string]int) {
	for pass, n := range repairs {
		if n > 0 {
			repairsTotal.WithLabelValues(pass, variant).Add(float64(n))
		}
	}
}

// WriteTextfile 以 node_exporter textfile 格式原子写出全部指标。
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, Registry)
}

// RepairKV 将修复计数转为日志键值。
func RepairKV(repairs map[string]int) map[string]string {
	kv := make(map[string]string, len(repairs))
	for k, v := range repairs {
		if v > 0 {
			kv[k] = strconv.Itoa(v)
		}
	}
	return kv
}
