package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsCreatedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wagateway",
			Subsystem: "bulk",
			Name:      "jobs_created_total",
			Help:      "Total number of bulk jobs created.",
		},
	)
	jobsFinishedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wagateway",
			Subsystem: "bulk",
			Name:      "jobs_finished_total",
			Help:      "Total number of bulk jobs reaching a terminal status.",
		},
		[]string{"status"},
	)
	itemsSentCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wagateway",
			Subsystem: "bulk",
			Name:      "items_sent_total",
			Help:      "Total number of per-item send attempts.",
		},
		[]string{"outcome"},
	)
	itemSendDurationHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "wagateway",
			Subsystem: "bulk",
			Name:      "item_send_duration_seconds",
			Help:      "Duration of individual send operations.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
