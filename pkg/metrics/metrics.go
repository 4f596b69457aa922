package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vera-byte/vconnect/internal/common/config"
)

type Metrics struct {
	registry      *prometheus.Registry
	namespace     string
	httpReqCnt    *prometheus.CounterVec
	httpDur       *prometheus.HistogramVec
	connections   prometheus.Gauge
	wsMsgCnt      *prometheus.CounterVec
	pluginReqCnt  *prometheus.CounterVec
	pluginReqDur  *prometheus.HistogramVec
	pluginReqInfl *prometheus.GaugeVec
	quorumCnt     *prometheus.CounterVec
	reapedCnt     prometheus.Counter
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	r := prometheus.NewRegistry()
	// Register standard process and Go collectors
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	httpReqCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"})
	httpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: cfg.Buckets}, []string{"method", "route", "status"})
	r.MustRegister(httpReqCnt, httpDur)

	connections := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "ws_connections"})
	wsMsgCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "ws_messages_total"}, []string{"type", "direction"})
	reapedCnt := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "ws_sessions_reaped_total"})
	r.MustRegister(connections, wsMsgCnt, reapedCnt)

	pluginReqCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "plugin_requests_total"}, []string{"plugin", "event", "status"})
	pluginReqDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "plugin_request_duration_seconds", Buckets: cfg.Buckets}, []string{"plugin", "event"})
	pluginReqInfl := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "plugin_requests_inflight"}, []string{"plugin"})
	r.MustRegister(pluginReqCnt, pluginReqDur, pluginReqInfl)

	quorumCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "quorum_appends_total"}, []string{"result"})
	r.MustRegister(quorumCnt)

	return &Metrics{
		registry:      r,
		namespace:     ns,
		httpReqCnt:    httpReqCnt,
		httpDur:       httpDur,
		connections:   connections,
		wsMsgCnt:      wsMsgCnt,
		pluginReqCnt:  pluginReqCnt,
		pluginReqDur:  pluginReqDur,
		pluginReqInfl: pluginReqInfl,
		quorumCnt:     quorumCnt,
		reapedCnt:     reapedCnt,
	}
}

func (m *Metrics) ConnOpened() { m.connections.Inc() }

func (m *Metrics) ConnClosed() { m.connections.Dec() }

func (m *Metrics) SessionReaped() { m.reapedCnt.Inc() }

func (m *Metrics) WsMessage(msgType, direction string) {
	m.wsMsgCnt.WithLabelValues(msgType, direction).Inc()
}

func (m *Metrics) PluginReqStart(plugin string) {
	m.pluginReqInfl.WithLabelValues(plugin).Inc()
}

func (m *Metrics) PluginReqDone(plugin, event, status string, since time.Time) {
	m.pluginReqCnt.WithLabelValues(plugin, event, status).Inc()
	m.pluginReqDur.WithLabelValues(plugin, event).Observe(time.Since(since).Seconds())
	m.pluginReqInfl.WithLabelValues(plugin).Dec()
}

func (m *Metrics) QuorumAppend(result string) {
	m.quorumCnt.WithLabelValues(result).Inc()
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
