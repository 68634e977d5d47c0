// Package metrics implements the metrics collector: batch ingest of raw
// points, minute and hourly rollups with percentiles, tiered retention,
// and the timeseries and dashboard read API.
package metrics

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/monlight/metrics/internal/store"
	"github.com/hazyhaar/monlight/shield"
)

// timeLayout is the wire timestamp format: UTC ISO-8601 with a Z suffix.
const timeLayout = "2006-01-02T15:04:05Z"

// maxBatch bounds one ingest request.
const maxBatch = 1000

// maxNameLen bounds a metric name.
const maxNameLen = 200

// Service wires the store and the HTTP handlers.
type Service struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates the Service.
func New(db *sql.DB, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store.New(db), logger: logger, now: time.Now}
}

// RegisterHTTP mounts the API routes. Gate middleware (auth, rate limit,
// body cap) is applied by the caller.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Post("/api/metrics", s.handleIngest)
	r.Get("/api/metrics", s.handleSeries)
	r.Get("/api/metrics/names", s.handleNames)
	r.Get("/api/dashboard", s.handleDashboard)
}

type metricPoint struct {
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Value     *float64       `json:"value"`
	Labels    map[string]any `json:"labels"`
	Timestamp string         `json:"timestamp"`
}

type ingestRequest struct {
	Metrics []metricPoint `json:"metrics"`
}

func validType(t string) bool {
	return t == "counter" || t == "histogram" || t == "gauge"
}

func (s *Service) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shield.WriteDetail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if len(req.Metrics) > maxBatch {
		shield.WriteDetail(w, http.StatusBadRequest,
			fmt.Sprintf("Too many metrics in batch (max %d)", maxBatch))
		return
	}

	serverNow := s.now().UTC().Format(timeLayout)
	points := make([]*store.Point, 0, len(req.Metrics))
	for i, m := range req.Metrics {
		if m.Name == "" || len(m.Name) > maxNameLen {
			shield.WriteDetail(w, http.StatusBadRequest,
				fmt.Sprintf("metrics[%d]: name must be 1-%d characters", i, maxNameLen))
			return
		}
		if !validType(m.Type) {
			shield.WriteDetail(w, http.StatusBadRequest,
				fmt.Sprintf("metrics[%d]: type must be counter, histogram or gauge", i))
			return
		}
		if m.Value == nil {
			shield.WriteDetail(w, http.StatusBadRequest,
				fmt.Sprintf("metrics[%d]: value is required", i))
			return
		}
		ts := serverNow
		if m.Timestamp != "" {
			t, err := parseTimestamp(m.Timestamp)
			if err != nil {
				shield.WriteDetail(w, http.StatusBadRequest,
					fmt.Sprintf("metrics[%d]: invalid timestamp", i))
				return
			}
			ts = t
		}
		points = append(points, &store.Point{
			Timestamp: ts,
			Name:      m.Name,
			Labels:    CanonicalLabels(m.Labels),
			Value:     *m.Value,
			Type:      m.Type,
		})
	}

	if err := s.store.InsertRaw(r.Context(), points); err != nil {
		s.logger.Error("metrics insert failed", "points", len(points), "error", err)
		shield.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	shield.WriteJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted", "count": len(points),
	})
}

// CanonicalLabels serializes a label object with lexicographically sorted
// keys so (name, labels) grouping is deterministic. encoding/json already
// sorts map keys; nil collapses to the empty object.
func CanonicalLabels(labels map[string]any) string {
	if len(labels) == 0 {
		return "{}"
	}
	data, err := json.Marshal(labels)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// parseTimestamp accepts the wire layout or RFC3339 and normalizes to the
// wire layout in UTC.
func parseTimestamp(s string) (string, error) {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t.UTC().Format(timeLayout), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return "", err
	}
	return t.UTC().Format(timeLayout), nil
}

func (s *Service) handleSeries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get("name")
	if name == "" {
		shield.WriteDetail(w, http.StatusBadRequest, "name is required")
		return
	}

	period, err := parsePeriod(q.Get("period"), time.Hour)
	if err != nil {
		shield.WriteDetail(w, http.StatusBadRequest, "Invalid period")
		return
	}
	resolution, err := pickResolution(q.Get("resolution"), period)
	if err != nil {
		shield.WriteDetail(w, http.StatusBadRequest, "resolution must be minute, hour or auto")
		return
	}
	labels, err := parseLabelFilter(q.Get("labels"))
	if err != nil {
		shield.WriteDetail(w, http.StatusBadRequest, "labels must be k:v pairs separated by commas")
		return
	}

	series, err := s.store.Series(r.Context(), store.SeriesFilter{
		Name:       name,
		Resolution: resolution,
		Since:      s.now().UTC().Add(-period).Format(timeLayout),
		Labels:     labels,
	})
	if err != nil {
		s.logger.Error("series query failed", "name", name, "error", err)
		shield.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if series == nil {
		series = []*store.Aggregate{}
	}
	shield.WriteJSON(w, http.StatusOK, map[string]any{
		"name":       name,
		"resolution": resolution,
		"series":     series,
	})
}

func (s *Service) handleNames(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.Names(r.Context())
	if err != nil {
		s.logger.Error("names query failed", "error", err)
		shield.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if names == nil {
		names = []string{}
	}
	shield.WriteJSON(w, http.StatusOK, map[string]any{"names": names})
}

// parsePeriod understands Go durations plus a day suffix ("7d").
func parsePeriod(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("bad period %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("bad period %q", s)
	}
	return d, nil
}

// pickResolution resolves "auto": minute for periods up to a day, hour
// beyond.
func pickResolution(s string, period time.Duration) (string, error) {
	switch s {
	case "minute", "hour":
		return s, nil
	case "", "auto":
		if period <= 24*time.Hour {
			return "minute", nil
		}
		return "hour", nil
	}
	return "", fmt.Errorf("bad resolution %q", s)
}

// parseLabelFilter splits "k:v,k2:v2" into a map.
func parseLabelFilter(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, ":")
		if !ok || k == "" {
			return nil, fmt.Errorf("bad label pair %q", pair)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

// dashboardPoint is one bucket of a composed dashboard series.
type dashboardPoint struct {
	Bucket string  `json:"bucket"`
	Value  float64 `json:"value"`
}

type latencyPoint struct {
	Bucket string  `json:"bucket"`
	P50    float64 `json:"p50"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

type endpointCount struct {
	Endpoint string  `json:"endpoint"`
	Count    float64 `json:"count"`
}

// handleDashboard composes the overview panels from the two conventional
// HTTP metrics: http_requests_total and http_request_duration_seconds.
func (s *Service) handleDashboard(w http.ResponseWriter, r *http.Request) {
	period, err := parsePeriod(r.URL.Query().Get("period"), time.Hour)
	if err != nil {
		shield.WriteDetail(w, http.StatusBadRequest, "Invalid period")
		return
	}
	resolution, _ := pickResolution("auto", period)
	since := s.now().UTC().Add(-period).Format(timeLayout)

	requests, err := s.store.Series(r.Context(), store.SeriesFilter{
		Name: "http_requests_total", Resolution: resolution, Since: since,
	})
	if err != nil {
		s.logger.Error("dashboard query failed", "error", err)
		shield.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	durations, err := s.store.Series(r.Context(), store.SeriesFilter{
		Name: "http_request_duration_seconds", Resolution: resolution, Since: since,
	})
	if err != nil {
		s.logger.Error("dashboard query failed", "error", err)
		shield.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	shield.WriteJSON(w, http.StatusOK, map[string]any{
		"period":        period.String(),
		"resolution":    resolution,
		"request_rate":  requestRate(requests),
		"error_rate":    errorRate(requests),
		"latency":       latencySeries(durations),
		"top_endpoints": topEndpoints(requests, 10),
	})
}

// requestRate sums request counts per bucket across label groups.
func requestRate(rows []*store.Aggregate) []dashboardPoint {
	totals := make(map[string]float64)
	for _, a := range rows {
		totals[a.Bucket] += a.Sum
	}
	return sortedPoints(totals)
}

// errorRate is the 5xx share of requests per bucket, read from the status
// label.
func errorRate(rows []*store.Aggregate) []dashboardPoint {
	totals := make(map[string]float64)
	errors := make(map[string]float64)
	for _, a := range rows {
		totals[a.Bucket] += a.Sum
		if strings.HasPrefix(labelValue(a.Labels, "status"), "5") {
			errors[a.Bucket] += a.Sum
		}
	}
	rates := make(map[string]float64, len(totals))
	for bucket, total := range totals {
		if total > 0 {
			rates[bucket] = errors[bucket] / total
		} else {
			rates[bucket] = 0
		}
	}
	return sortedPoints(rates)
}

// latencySeries merges duration percentiles per bucket, weighting label
// groups by sample count.
func latencySeries(rows []*store.Aggregate) []latencyPoint {
	type acc struct {
		p50, p95, p99 float64
		count         int64
	}
	byBucket := make(map[string]*acc)
	for _, a := range rows {
		if a.P50 == nil {
			continue
		}
		c := byBucket[a.Bucket]
		if c == nil {
			c = &acc{}
			byBucket[a.Bucket] = c
		}
		w := float64(a.Count)
		c.p50 += *a.P50 * w
		c.p95 += *a.P95 * w
		c.p99 += *a.P99 * w
		c.count += a.Count
	}

	buckets := make([]string, 0, len(byBucket))
	for b := range byBucket {
		buckets = append(buckets, b)
	}
	sort.Strings(buckets)

	out := make([]latencyPoint, 0, len(buckets))
	for _, b := range buckets {
		c := byBucket[b]
		n := float64(c.count)
		out = append(out, latencyPoint{
			Bucket: b, P50: c.p50 / n, P95: c.p95 / n, P99: c.p99 / n,
		})
	}
	return out
}

// topEndpoints ranks endpoints by total request count over the period.
func topEndpoints(rows []*store.Aggregate, limit int) []endpointCount {
	totals := make(map[string]float64)
	for _, a := range rows {
		if ep := labelValue(a.Labels, "endpoint"); ep != "" {
			totals[ep] += a.Sum
		}
	}
	out := make([]endpointCount, 0, len(totals))
	for ep, c := range totals {
		out = append(out, endpointCount{Endpoint: ep, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Endpoint < out[j].Endpoint
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// labelValue reads one string value from a canonical label JSON document.
func labelValue(labels, key string) string {
	var m map[string]any
	if json.Unmarshal([]byte(labels), &m) != nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func sortedPoints(m map[string]float64) []dashboardPoint {
	buckets := make([]string, 0, len(m))
	for b := range m {
		buckets = append(buckets, b)
	}
	sort.Strings(buckets)
	out := make([]dashboardPoint, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, dashboardPoint{Bucket: b, Value: m[b]})
	}
	return out
}
