package observability

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/slidemanager/backend-daemon/internal/domain"
	"github.com/slidemanager/backend-daemon/internal/logger"
)

// Metrics holds every counter/gauge/histogram the daemon exposes on its
// Prometheus scrape endpoint. All methods are safe to call on a nil
// receiver so call sites never need a "metrics enabled" branch.
type Metrics struct {
	apiRequests *vec
	apiLatency  *vec
	apiInflight *vec

	taskTotal    *vec
	taskDuration *vec

	artifactTransitions *vec

	rateLimiterWait       *vec
	rateLimiterThrottled  *vec
	watchdogTrips         *vec
	embedCacheHits        *vec
	embedCacheMisses      *vec
	embedBatchSize        *vec
	sseSubscribers        *vec
	sseFramesSent         *vec
	sseDropOldest         *vec
	taskQueueDepth        *vec
	sqliteStats           *vec
	redisMirrorUp         *vec
	redisMirrorPing       *vec
	pdfConvertDuration    *vec
	thumbnailRenderErrors *vec
}

var (
	initOnce sync.Once
	instance *Metrics
)

// Enabled reports whether the process should stand up a metrics registry
// at all. Off by default: a single-user desktop daemon has no scraper
// unless the user runs one deliberately.
func Enabled() bool {
	v := strings.TrimSpace(os.Getenv("METRICS_ENABLED"))
	if v == "" {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func Current() *Metrics {
	return instance
}

func scrapeInterval() time.Duration {
	v := strings.TrimSpace(os.Getenv("METRICS_SCRAPE_INTERVAL_SECONDS"))
	if v == "" {
		return 10 * time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 10 * time.Second
	}
	return time.Duration(n) * time.Second
}

func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = &Metrics{
			apiRequests: newCounterVec("slidemanager_api_requests_total", "Total control API requests by method/route/status.", []string{"method", "route", "status"}),
			apiLatency: newHistogramVec(
				"slidemanager_api_request_duration_seconds",
				"Control API request latency in seconds by method/route/status.",
				[]string{"method", "route", "status"},
				[]float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
			),
			apiInflight: newGauge("slidemanager_api_inflight_requests", "In-flight control API requests."),
			taskTotal:   newCounterVec("slidemanager_task_total", "Completed tasks by kind/status.", []string{"kind", "status"}),
			taskDuration: newHistogramVec(
				"slidemanager_task_duration_seconds",
				"Task processing duration in seconds by kind/status.",
				[]string{"kind", "status"},
				[]float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			),
			artifactTransitions: newCounterVec(
				"slidemanager_artifact_transitions_total",
				"Artifact state transitions by kind/status.",
				[]string{"kind", "status"},
			),
			rateLimiterWait: newHistogramVec(
				"slidemanager_ratelimit_wait_seconds",
				"Time spent blocked in the embedding rate limiter by bucket.",
				[]string{"bucket"},
				[]float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			),
			rateLimiterThrottled: newCounterVec(
				"slidemanager_ratelimit_throttled_total",
				"Acquire calls that had to wait for tokens, by bucket.",
				[]string{"bucket"},
			),
			watchdogTrips:    newCounter("slidemanager_watchdog_trips_total", "Tasks the watchdog found stalled past their heartbeat deadline."),
			embedCacheHits:   newCounter("slidemanager_embed_cache_hits_total", "Embedding requests served from the content-addressed cache."),
			embedCacheMisses: newCounter("slidemanager_embed_cache_misses_total", "Embedding requests that required a remote call."),
			embedBatchSize: newHistogramVec(
				"slidemanager_embed_batch_size",
				"Distinct texts sent per embedding batch call.",
				[]string{"model"},
				[]float64{1, 2, 4, 8, 16, 32, 64, 128},
			),
			sseSubscribers:     newGauge("slidemanager_sse_subscribers", "Currently connected SSE stream clients."),
			sseFramesSent:      newCounter("slidemanager_sse_frames_sent_total", "SSE frames written to clients."),
			sseDropOldest:      newCounter("slidemanager_sse_drop_oldest_total", "SSE frames dropped from a subscriber's channel because it fell behind."),
			taskQueueDepth:     newGaugeVec("slidemanager_task_queue_depth", "Task queue depth by kind/status.", []string{"kind", "status"}),
			sqliteStats:        newGaugeVec("slidemanager_sqlite_stats", "sql.DB connection pool stats for the SQLite handle.", []string{"metric"}),
			redisMirrorUp:      newGauge("slidemanager_redis_mirror_up", "Redis event mirror connectivity (1=up, 0=down)."),
			redisMirrorPing:    newGauge("slidemanager_redis_mirror_ping_seconds", "Redis event mirror ping latency in seconds."),
			pdfConvertDuration: newHistogramVec("slidemanager_pdf_convert_duration_seconds", "LibreOffice conversion duration in seconds by status.", []string{"status"}, []float64{1, 5, 10, 20, 30, 60, 120, 300}),
			thumbnailRenderErrors: newCounterVec(
				"slidemanager_thumbnail_render_errors_total",
				"pdftoppm render failures by reason.",
				[]string{"reason"},
			),
		}
		if log != nil {
			log.Info("observability metrics enabled")
		}
	})
	return instance
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	writers := []interface{ WritePrometheus(io.Writer) error }{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.taskTotal, m.taskDuration,
		m.artifactTransitions,
		m.rateLimiterWait, m.rateLimiterThrottled,
		m.watchdogTrips,
		m.embedCacheHits, m.embedCacheMisses, m.embedBatchSize,
		m.sseSubscribers, m.sseFramesSent, m.sseDropOldest,
		m.taskQueueDepth, m.sqliteStats,
		m.redisMirrorUp, m.redisMirrorPing,
		m.pdfConvertDuration, m.thumbnailRenderErrors,
	}
	for _, wr := range writers {
		if err := wr.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

// ObserveTask records one task's terminal outcome — kind is a
// domain.TaskKind value ("text", "bm25", "pdf", "thumb", "text_vec",
// "img_vec"), status is "ok" or "error".
func (m *Metrics) ObserveTask(kind, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	m.taskTotal.Inc(kind, status)
	if dur > 0 {
		m.taskDuration.Observe(dur.Seconds(), kind, status)
	}
}

func (m *Metrics) IncArtifactTransition(kind, status string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	m.artifactTransitions.Inc(kind, status)
}

// ObserveRateLimiterWait records how long a caller blocked in
// ratelimit.DualTokenBucket.Acquire before tokens were available.
func (m *Metrics) ObserveRateLimiterWait(bucket string, dur time.Duration) {
	if m == nil {
		return
	}
	if bucket == "" {
		bucket = "unknown"
	}
	m.rateLimiterWait.Observe(dur.Seconds(), bucket)
	if dur > 0 {
		m.rateLimiterThrottled.Inc(bucket)
	}
}

func (m *Metrics) IncWatchdogTrip() {
	if m == nil {
		return
	}
	m.watchdogTrips.Inc()
}

func (m *Metrics) IncEmbedCacheHit() {
	if m == nil {
		return
	}
	m.embedCacheHits.Inc()
}

func (m *Metrics) IncEmbedCacheMiss() {
	if m == nil {
		return
	}
	m.embedCacheMisses.Inc()
}

func (m *Metrics) ObserveEmbedBatch(model string, size int) {
	if m == nil || size <= 0 {
		return
	}
	if model == "" {
		model = "unknown"
	}
	m.embedBatchSize.Observe(float64(size), model)
}

func (m *Metrics) SSESubscriberInc() {
	if m == nil {
		return
	}
	m.sseSubscribers.Inc()
}

func (m *Metrics) SSESubscriberDec() {
	if m == nil {
		return
	}
	m.sseSubscribers.Dec()
}

func (m *Metrics) IncSSEFrameSent() {
	if m == nil {
		return
	}
	m.sseFramesSent.Inc()
}

func (m *Metrics) IncSSEDropOldest() {
	if m == nil {
		return
	}
	m.sseDropOldest.Inc()
}

func (m *Metrics) ObservePDFConvert(status string, dur time.Duration) {
	if m == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	m.pdfConvertDuration.Observe(dur.Seconds(), status)
}

func (m *Metrics) IncThumbnailRenderError(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.thumbnailRenderErrors.Inc(reason)
}

// StartSQLiteCollector periodically samples sql.DB pool stats for the
// daemon's single SQLite connection handle.
func (m *Metrics) StartSQLiteCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: sqlite stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.sqliteStats.Set(float64(stats.OpenConnections), "open_connections")
				m.sqliteStats.Set(float64(stats.InUse), "in_use")
				m.sqliteStats.Set(float64(stats.Idle), "idle")
				m.sqliteStats.Set(float64(stats.WaitCount), "wait_count")
				m.sqliteStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
			}
		}
	}()
}

// StartRedisCollector pings the optional event mirror on an interval so
// its connectivity shows up on the scrape endpoint even though the daemon
// treats it as best-effort.
func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	interval := scrapeInterval()
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = rdb.Close()
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisMirrorUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis mirror ping failed", "error", err)
					}
					continue
				}
				m.redisMirrorUp.Set(1)
				m.redisMirrorPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}

// StartTaskQueueCollector samples task queue depth by kind/status so a
// dashboard can watch backlog drain without polling GET /jobs/{id}.
func (m *Metrics) StartTaskQueueCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var rows []struct {
					Kind   string
					Status string
					Count  int64
				}
				if err := db.WithContext(ctx).
					Model(&domain.Task{}).
					Select("kind, status, count(*) as count").
					Group("kind, status").
					Scan(&rows).Error; err != nil {
					if log != nil {
						log.Warn("metrics: task queue depth query failed", "error", err)
					}
					continue
				}
				for _, row := range rows {
					m.taskQueueDepth.Set(float64(row.Count), row.Kind, row.Status)
				}
			}
		}
	}()
}

// ---- lightweight metric primitives (Prometheus exposition) ----
//
// vec is the one storage shape behind every counter, gauge, and histogram
// this package exposes. An unlabeled metric (newCounter/newGauge) is a vec
// with no label names, so its single value lives under the empty label
// set; a labeled one (newCounterVec/newGaugeVec/newHistogramVec) carries
// one or more label names and accumulates a value per distinct combination
// seen. Histograms differ only in that each label combination holds a
// *histogram instead of a bare float64.
type vecKind int

const (
	kindCounter vecKind = iota
	kindGauge
	kindHistogram
)

type vec struct {
	name       string
	help       string
	kind       vecKind
	labelNames []string
	buckets    []float64

	mu      sync.RWMutex
	scalars map[string]float64
	hists   map[string]*histogram
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	total   uint64
}

func newVec(kind vecKind, name, help string, labelNames []string, buckets []float64) *vec {
	if kind == kindHistogram && len(buckets) == 0 {
		buckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}
	}
	return &vec{
		name: name, help: help, kind: kind, labelNames: labelNames, buckets: buckets,
		scalars: map[string]float64{}, hists: map[string]*histogram{},
	}
}

func newCounter(name, help string) *vec        { return newVec(kindCounter, name, help, nil, nil) }
func newCounterVec(name, help string, labels []string) *vec {
	return newVec(kindCounter, name, help, labels, nil)
}
func newGauge(name, help string) *vec { return newVec(kindGauge, name, help, nil, nil) }
func newGaugeVec(name, help string, labels []string) *vec {
	return newVec(kindGauge, name, help, labels, nil)
}
func newHistogramVec(name, help string, labels []string, buckets []float64) *vec {
	return newVec(kindHistogram, name, help, labels, buckets)
}

func (v *vec) Inc(values ...string) { v.Add(1, values...) }

func (v *vec) Add(delta float64, values ...string) {
	if v == nil {
		return
	}
	lbl := labelString(v.labelNames, values)
	v.mu.Lock()
	v.scalars[lbl] += delta
	v.mu.Unlock()
}

func (v *vec) Set(val float64, values ...string) {
	if v == nil {
		return
	}
	lbl := labelString(v.labelNames, values)
	v.mu.Lock()
	v.scalars[lbl] = val
	v.mu.Unlock()
}

func (v *vec) Dec(values ...string) { v.Add(-1, values...) }

func (v *vec) Value() float64 {
	if v == nil {
		return 0
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.scalars[labelString(v.labelNames, nil)]
}

func (v *vec) Observe(val float64, values ...string) {
	if v == nil {
		return
	}
	lbl := labelString(v.labelNames, values)
	v.mu.Lock()
	defer v.mu.Unlock()
	h, ok := v.hists[lbl]
	if !ok {
		h = &histogram{buckets: v.buckets, counts: make([]uint64, len(v.buckets)+1)}
		v.hists[lbl] = h
	}
	h.sum += val
	h.total++
	for i, b := range h.buckets {
		if val <= b {
			h.counts[i]++
		}
	}
	h.counts[len(h.counts)-1]++
}

func (v *vec) WritePrometheus(w io.Writer) error {
	if v == nil {
		return nil
	}
	typeName := "counter"
	switch v.kind {
	case kindGauge:
		typeName = "gauge"
	case kindHistogram:
		typeName = "histogram"
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", v.name, v.help); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s %s\n", v.name, typeName); err != nil {
		return err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.kind == kindHistogram {
		for k, h := range v.hists {
			for i, b := range h.buckets {
				if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", v.name, withLe(k, fmt.Sprintf("%g", b)), h.counts[i]); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", v.name, withLe(k, "+Inf"), h.counts[len(h.counts)-1]); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "%s_sum%s %f\n", v.name, k, h.sum); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "%s_count%s %d\n", v.name, k, h.total); err != nil {
				return err
			}
		}
		return nil
	}
	for k, val := range v.scalars {
		if _, err := fmt.Fprintf(w, "%s%s %f\n", v.name, k, val); err != nil {
			return err
		}
	}
	return nil
}

func labelString(names []string, values []string) string {
	if len(names) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("{")
	for i, name := range names {
		if i > 0 {
			b.WriteString(",")
		}
		val := "unknown"
		if i < len(values) {
			val = values[i]
		}
		b.WriteString(name)
		b.WriteString("=\"")
		b.WriteString(escapeLabel(val))
		b.WriteString("\"")
	}
	b.WriteString("}")
	return b.String()
}

func escapeLabel(v string) string {
	if v == "" {
		return ""
	}
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	v = strings.ReplaceAll(v, "\n", "\\n")
	return v
}

func withLe(labels string, le string) string {
	le = escapeLabel(le)
	if labels == "" || labels == "{}" {
		return "{le=\"" + le + "\"}"
	}
	if strings.HasSuffix(labels, "}") {
		return strings.TrimSuffix(labels, "}") + ",le=\"" + le + "\"}"
	}
	return "{le=\"" + le + "\"}"
}
