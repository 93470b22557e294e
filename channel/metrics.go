package channel

import (
	"github.com/hashicorp/go-metrics"
)

var (
	MetricCallCount         = []string{"framechan", "call", "count"}
	MetricCallTimeoutCount  = []string{"framechan", "call", "timeout", "count"}
	MetricCallErrorCount    = []string{"framechan", "call", "error", "count"}
	MetricNotifyCount       = []string{"framechan", "notify", "count"}
	MetricRequestCount      = []string{"framechan", "request", "in", "count"}
	MetricHandlerErrorCount = []string{"framechan", "request", "in", "error", "count"}
	MetricDroppedCount      = []string{"framechan", "message", "dropped", "count"}
	MetricHandshakeCount    = []string{"framechan", "handshake", "count"}
)

type TelemetryLabel string

var (
	LabelScope  TelemetryLabel = "scope"
	LabelReason TelemetryLabel = "reason"
	LabelCode   TelemetryLabel = "code"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func incr(key []string, labels ...metrics.Label) {
	metrics.IncrCounterWithLabels(key, 1, labels)
}
