// Package httpapi exposes the ad-hoc query endpoint and Prometheus metrics
// over HTTP, per spec §6.
package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vogelchr/vitolink/decoder"
	"github.com/vogelchr/vitolink/orchestrator"
)

// Server wires the query endpoint and the Prometheus registry to an
// Orchestrator.
type Server struct {
	orch *orchestrator.Orchestrator
	log  *slog.Logger
	mux  *http.ServeMux
}

// New builds a Server. It registers its own Prometheus collector against
// reg; pass nil to use prometheus.DefaultRegisterer.
func New(orch *orchestrator.Orchestrator, log *slog.Logger, reg prometheus.Registerer) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	s := &Server{orch: orch, log: log, mux: http.NewServeMux()}

	collector := &metricsCollector{orch: orch}
	if reg == nil {
		prometheus.MustRegister(collector)
		s.mux.Handle("/metrics", promhttp.Handler())
	} else {
		reg.MustRegister(collector)
		gatherer, ok := reg.(prometheus.Gatherer)
		if !ok {
			gatherer = prometheus.DefaultGatherer
		}
		s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.mux.HandleFunc("GET /query/{addr}/{tagOrLen}", s.handleQuery)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleQuery answers GET /query/{addr}/{tagOrLen}: it issues one
// orchestrator query for addr (hex, with or without a 0x prefix), decodes the response payload using the
// registry entry named by tagOrLen (or an N-byte hex passthrough), and
// writes the formatted value. Per spec §6, any failure returns 500 with a
// plain-text reason.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	addrStr := r.PathValue("addr")
	tagOrLen := r.PathValue("tagOrLen")

	hexAddr := strings.TrimPrefix(strings.TrimPrefix(addrStr, "0x"), "0X")
	addr, err := strconv.ParseUint(hexAddr, 16, 16)
	if err != nil {
		http.Error(w, fmt.Sprintf("bad address %q: %v", addrStr, err), http.StatusInternalServerError)
		return
	}

	dec, err := decoder.Lookup(tagOrLen)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	rec, err := s.orch.Query(uint16(addr), dec.PayloadLen)
	if err != nil {
		s.log.Error("query failed", "addr", addrStr, "tag", tagOrLen, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	tv, err := dec.Parse(rec.Payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	fmt.Fprintf(w, "%04x/%d = %s\n", addr, dec.PayloadLen, dec.Format(tv))
}

// metricsCollector adapts protocol.EngineMetrics and the orchestrator's poll
// count to the Prometheus collector interface.
type metricsCollector struct {
	orch *orchestrator.Orchestrator
}

var (
	descAcks     = prometheus.NewDesc("vitolink_engine_acks_total", "ACKs received from the controller.", nil, nil)
	descNaks     = prometheus.NewDesc("vitolink_engine_naks_total", "NAKs received from the controller.", nil, nil)
	descTimeouts = prometheus.NewDesc("vitolink_engine_timeouts_total", "Receive timeouts.", nil, nil)
	descErrors   = prometheus.NewDesc("vitolink_engine_errors_total", "Protocol errors (bad checksum, unexpected byte, etc).", nil, nil)
	descMessages = prometheus.NewDesc("vitolink_engine_messages_total", "Valid telegrams received.", nil, nil)
	descPolls    = prometheus.NewDesc("vitolink_poll_cycles_total", "Completed polling passes.", nil, nil)
)

func (c *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descAcks
	ch <- descNaks
	ch <- descTimeouts
	ch <- descErrors
	ch <- descMessages
	ch <- descPolls
}

func (c *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.orch.Engine().Metrics()
	ch <- prometheus.MustNewConstMetric(descAcks, prometheus.GaugeValue, float64(m.Acks))
	ch <- prometheus.MustNewConstMetric(descNaks, prometheus.GaugeValue, float64(m.Naks))
	ch <- prometheus.MustNewConstMetric(descTimeouts, prometheus.GaugeValue, float64(m.Timeouts))
	ch <- prometheus.MustNewConstMetric(descErrors, prometheus.GaugeValue, float64(m.Errors))
	ch <- prometheus.MustNewConstMetric(descMessages, prometheus.GaugeValue, float64(m.Messages))
	ch <- prometheus.MustNewConstMetric(descPolls, prometheus.CounterValue, float64(c.orch.PollsCompleted()))
}
