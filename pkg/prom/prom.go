package prom

import (
	"fmt"
	"sync"

	xhttp "github.com/nimasrn/cod-ledger/pkg/http"
	"github.com/nimasrn/cod-ledger/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	SystemCOD = "cod"
)

const (
	MetricCollectionsTotal       = "collections_total"
	MetricRateLimitedTotal       = "rate_limited_total"
	MetricConsistencyErrorsTotal = "consistency_errors_total"
	MetricVarianceAbs            = "reconciliation_variance_abs"
	MetricReconciliationsTotal   = "reconciliations_total"
	MetricAuditEventsTotal       = "audit_events_total"
)

var varianceBuckets = []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 1000}

// Registry owns the collectors of one process. A nil *Registry is valid and records nothing.
type Registry struct {
	mu         sync.Mutex
	reg        *prometheus.Registry
	namespace  string
	labels     prometheus.Labels
	counters   map[string]prometheus.Counter
	counterVec map[string]*prometheus.CounterVec
	histograms map[string]prometheus.Histogram
}

func New(host, env, namespace string) (*Registry, error) {
	r := &Registry{
		reg:        prometheus.NewRegistry(),
		namespace:  namespace,
		labels:     prometheus.Labels{"env": env, "instance": host},
		counters:   make(map[string]prometheus.Counter),
		counterVec: make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]prometheus.Histogram),
	}

	var err error
	hasError := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	hasError(r.createCounterVec(SystemCOD, MetricCollectionsTotal, "collection attempts by result", []string{"result"}))
	hasError(r.createCounter(SystemCOD, MetricRateLimitedTotal, "collection attempts rejected by the courier rate guard"))
	hasError(r.createCounter(SystemCOD, MetricConsistencyErrorsTotal, "collections whose ledger write succeeded but accumulation failed"))
	hasError(r.createHistogram(SystemCOD, MetricVarianceAbs, "absolute variance of submitted reconciliations", varianceBuckets))
	hasError(r.createCounterVec(SystemCOD, MetricReconciliationsTotal, "reconciliation decisions by status", []string{"status"}))
	hasError(r.createCounterVec(SystemCOD, MetricAuditEventsTotal, "audit events persisted by type", []string{"type"}))

	return r, err
}

func (r *Registry) createCounter(subsystem, name, help string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   r.namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: r.labels,
	})
	r.counters[subsystem+name] = c
	return r.reg.Register(c)
}

func (r *Registry) createCounterVec(subsystem, name, help string, labels []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   r.namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: r.labels,
	}, labels)
	r.counterVec[subsystem+name] = c
	return r.reg.Register(c)
}

func (r *Registry) createHistogram(subsystem, name, help string, buckets []float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   r.namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: r.labels,
		Buckets:     buckets,
	})
	r.histograms[subsystem+name] = h
	return r.reg.Register(h)
}

func (r *Registry) AddCounter(subsystem, name string, number float64) {
	if r == nil {
		return
	}
	if v, ok := r.counters[subsystem+name]; ok {
		v.Add(number)
		return
	}
	logger.Warn("[metrics] counter not found", "subsystem", subsystem, "name", name)
}

func (r *Registry) IncCounterVec(subsystem, name string, labelValues ...string) {
	if r == nil {
		return
	}
	if v, ok := r.counterVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Inc()
		return
	}
	logger.Warn("[metrics] counter vec not found", "subsystem", subsystem, "name", name)
}

func (r *Registry) Observe(subsystem, name string, value float64) {
	if r == nil {
		return
	}
	if v, ok := r.histograms[subsystem+name]; ok {
		v.Observe(value)
		return
	}
	logger.Warn("[metrics] histogram not found", "subsystem", subsystem, "name", name)
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// ListenAndServe exposes the registry on url until the server fails.
func (r *Registry) ListenAndServe(addr, url string) error {
	if r == nil {
		return fmt.Errorf("metrics registry is not initialised")
	}
	hh := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	s := xhttp.CreateServer()
	s.GET(url, hh)
	logger.Info("[metrics-server] listening...", "addr", addr, "url", url)
	return s.ListenAndServe(addr)
}

func (r *Registry) CollectionResult(result string) {
	r.IncCounterVec(SystemCOD, MetricCollectionsTotal, result)
}

func (r *Registry) RateLimited() {
	r.AddCounter(SystemCOD, MetricRateLimitedTotal, 1)
}

func (r *Registry) ConsistencyError() {
	r.AddCounter(SystemCOD, MetricConsistencyErrorsTotal, 1)
}

func (r *Registry) ReconciliationDecided(status string, varianceAbs float64) {
	r.IncCounterVec(SystemCOD, MetricReconciliationsTotal, status)
	r.Observe(SystemCOD, MetricVarianceAbs, varianceAbs)
}

func (r *Registry) AuditPersisted(eventType string) {
	r.IncCounterVec(SystemCOD, MetricAuditEventsTotal, eventType)
}
