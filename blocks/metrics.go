package blocks

import "github.com/prometheus/client_golang/prometheus"

var (
	readCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tpie",
		Subsystem: "blocks",
		Name:      "reads_total",
		Help:      "Number of blocks read from disk.",
	})
	writeCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tpie",
		Subsystem: "blocks",
		Name:      "writes_total",
		Help:      "Number of blocks written to disk.",
	})
	allocCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tpie",
		Subsystem: "blocks",
		Name:      "allocs_total",
		Help:      "Number of blocks allocated.",
	})
	freeCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tpie",
		Subsystem: "blocks",
		Name:      "frees_total",
		Help:      "Number of blocks freed.",
	})
)

func init() {
	prometheus.MustRegister(readCounter, writeCounter, allocCounter, freeCounter)
}
