package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatepass",
		Name:      "scans_total",
		Help:      "Total credential scans by terminal outcome",
	}, []string{"outcome"})

	EnrollmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatepass",
		Name:      "enrollments_total",
		Help:      "Total enrollment attempts by result",
	}, []string{"result"})

	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gatepass",
		Name:      "scan_duration_seconds",
		Help:      "End-to-end duration of scan requests, verification included",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	AdmissionsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gatepass",
		Name:      "admissions_processed_total",
		Help:      "Admission events consumed by the roster worker",
	})
)
