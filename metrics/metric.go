package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	apierrors "github.com/cubefs/xattrdb/errors"
)

const namespace = "xattrdb"

var (
	Registry = prometheus.NewRegistry()

	XattrOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "xattr",
			Name:      "ops_total",
			Help:      "xattr operations by result code",
		},
		[]string{"op", "code"},
	)
	XattrOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "xattr",
			Name:      "op_duration_seconds",
			Help:      "latency of xattr operations",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"op"},
	)
	XattrRestores = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "xattr",
			Name:      "restores_total",
			Help:      "failed mutations whose deleted parts were restored",
		},
	)
	XattrDroppedItems = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "xattr",
			Name:      "dropped_items_total",
			Help:      "xattr items deleted by whole inode drops",
		},
	)
	TransRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trans",
			Name:      "index_retries_total",
			Help:      "transaction holds retried after index lock changes",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		XattrOps,
		XattrOpDuration,
		XattrRestores,
		XattrDroppedItems,
		TransRetries,
	)
}

// ObserveXattrOp records the result and latency of one xattr operation
func ObserveXattrOp(op string, start time.Time, err error) {
	XattrOps.WithLabelValues(op, apierrors.Code(err)).Inc()
	XattrOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
