// Package vitals aggregates browser performance entries into Core Web Vitals
// samples and delivers them to a reporting endpoint in batches.
//
// An Aggregator is created once by the owning application and passed to the
// code that produces entries or custom metrics:
//
//	agg, err := vitals.New(vitals.DefaultOptions(), vitals.NewHTTPTransport(endpoint))
//	agg.Observe(batch)
//	agg.TrackCustomMetric("hero_image_decoded", 412, "ms")
//	defer agg.Destroy()
package vitals

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/saveenergy/pagevitals/pkg/types"
)

var ErrNoTransport = errors.New("vitals: transport is required")

// Aggregator derives metric samples from performance entries, buffers them
// and flushes report envelopes to a Transport. All methods are safe for
// concurrent use.
type Aggregator struct {
	opts      Options
	caps      Capabilities
	transport Transport
	beaconer  Beaconer
	logger    logrus.FieldLogger
	now       func() time.Time

	buffer *ReportBuffer

	mu           sync.Mutex
	interactions *InteractionWindow
	shifts       *LayoutShiftSession
	fcpSeen      bool
	latest       map[string]types.VitalSnapshot
	counts       map[string]int
	destroyed    bool
	inflight     int
	idle         *sync.Cond

	flusher     *periodicFlusher
	destroyOnce sync.Once
}

// Option customises an Aggregator.
type Option func(*Aggregator)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithProbe sets the capability probe run once by New.
func WithProbe(p Probe) Option {
	return func(a *Aggregator) {
		if p != nil {
			a.caps = p.Probe()
		}
	}
}

// WithClock overrides the sample timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// New validates opts, probes capabilities and starts the report timer. The
// caller owns the returned aggregator and must call Destroy.
func New(opts Options, transport Transport, extra ...Option) (*Aggregator, error) {
	if transport == nil {
		return nil, ErrNoTransport
	}
	if opts.Thresholds == nil {
		opts.Thresholds = DefaultThresholds()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	nullLogger := logrus.New()
	nullLogger.SetOutput(io.Discard)

	a := &Aggregator{
		opts:         opts,
		caps:         FullCapabilities(),
		transport:    transport,
		logger:       nullLogger,
		now:          time.Now,
		buffer:       NewReportBuffer(opts.BufferSize),
		interactions: NewInteractionWindow(interactionWindowSize),
		shifts:       NewLayoutShiftSession(),
		latest:       make(map[string]types.VitalSnapshot),
		counts:       make(map[string]int),
	}
	a.idle = sync.NewCond(&a.mu)
	for _, opt := range extra {
		opt(a)
	}

	if b, ok := transport.(Beaconer); ok && a.caps.Beacon {
		a.beaconer = b
	} else {
		a.caps.Beacon = false
	}

	flusher, err := newPeriodicFlusher(opts.ReportInterval, func() { a.Flush(false) })
	if err != nil {
		return nil, err
	}
	a.flusher = flusher

	if opts.DebugMode {
		a.logger.WithFields(logrus.Fields{
			"endpoint":             opts.ReportingEndpoint,
			"buffer_size":          opts.BufferSize,
			"report_interval":      opts.ReportInterval,
			"performance_observer": a.caps.PerformanceObserver,
			"beacon":               a.caps.Beacon,
		}).Debug("Vitals aggregator started")
	}
	return a, nil
}

func (a *Aggregator) Options() Options { return a.opts }

// Capabilities returns the flags computed at construction.
func (a *Aggregator) Capabilities() Capabilities { return a.caps }

// Record appends sample to the buffer and flushes once it is full. Samples
// recorded after Destroy are dropped. Non-finite numbers are recorded as 0.
func (a *Aggregator) Record(sample types.MetricSample) {
	sample.Value = finite(sample.Value)
	sample.Extra = finiteExtra(sample.Extra)
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return
	}
	a.track(sample)
	var (
		report *types.Report
		async  bool
	)
	if a.buffer.Append(sample) {
		report = a.takeReportLocked()
		async = a.startLocked(report, false)
	}
	a.mu.Unlock()

	if a.opts.DebugMode {
		a.logger.WithFields(logrus.Fields{
			"metric": sample.Name,
			"value":  sample.Value,
			"rating": sample.Rating,
		}).Debug("Metric recorded")
	}
	if report != nil {
		a.deliver(report, async)
	}
}

// Flush sends the buffered samples. immediate selects the beacon path used
// during teardown; otherwise the report is posted asynchronously. Flushing
// an empty buffer does nothing.
func (a *Aggregator) Flush(immediate bool) {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return
	}
	report := a.takeReportLocked()
	async := a.startLocked(report, immediate)
	a.mu.Unlock()
	if report != nil {
		a.deliver(report, async)
	}
}

// Destroy stops the report timer, flushes the buffer through the beacon path
// and discards all state. Later calls do nothing.
func (a *Aggregator) Destroy() {
	a.destroyOnce.Do(func() {
		a.flusher.Stop()

		a.mu.Lock()
		report := a.takeReportLocked()
		async := a.startLocked(report, true)
		a.destroyed = true
		a.interactions.Reset()
		a.shifts.Reset()
		a.fcpSeen = false
		a.latest = make(map[string]types.VitalSnapshot)
		a.counts = make(map[string]int)
		a.mu.Unlock()

		if report != nil {
			a.deliver(report, async)
		}
		if a.opts.DebugMode {
			a.logger.Debug("Vitals aggregator destroyed")
		}
	})
}

// Wait blocks until every asynchronous send started so far has finished.
// It is safe to call while other goroutines keep recording.
func (a *Aggregator) Wait() {
	a.mu.Lock()
	for a.inflight > 0 {
		a.idle.Wait()
	}
	a.mu.Unlock()
}

// Buffered returns the number of samples waiting for the next flush.
func (a *Aggregator) Buffered() int {
	return a.buffer.Len()
}

// Summary reduces the aggregate state: latest core vitals and counts of
// the other categories.
func (a *Aggregator) Summary() types.Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.summaryLocked()
}

// TrackCustomMetric records an application metric.
func (a *Aggregator) TrackCustomMetric(name string, value float64, unit string) {
	a.Record(NewSample(types.MetricCustomMetric, value, "", a.now(), map[string]interface{}{
		"metricName": name,
		"unit":       unit,
	}))
}

// TrackCustomTiming records an application timing. A numeric "duration" in
// data becomes the sample value.
func (a *Aggregator) TrackCustomTiming(timingType, name string, data map[string]interface{}) {
	value := 0.0
	if d, ok := toFloat(data["duration"]); ok {
		value = d
	}
	a.Record(NewSample(types.MetricCustomTiming, value, "", a.now(), map[string]interface{}{
		"timingType": timingType,
		"name":       name,
		"data":       data,
	}))
}

func (a *Aggregator) track(s types.MetricSample) {
	if types.IsCoreVital(s.Name) {
		a.latest[s.Name] = types.VitalSnapshot{Value: s.Value, Rating: s.Rating, Timestamp: s.Timestamp}
		return
	}
	a.counts[s.Name]++
}

func (a *Aggregator) summaryLocked() types.Summary {
	var summary types.Summary
	if len(a.latest) > 0 {
		summary.Vitals = make(map[string]types.VitalSnapshot, len(a.latest))
		for k, v := range a.latest {
			summary.Vitals[k] = v
		}
	}
	if len(a.counts) > 0 {
		summary.Counts = make(map[string]int, len(a.counts))
		for k, v := range a.counts {
			summary.Counts[k] = v
		}
	}
	return summary
}

func (a *Aggregator) takeReportLocked() *types.Report {
	samples := a.buffer.Swap()
	if len(samples) == 0 {
		return nil
	}
	return &types.Report{
		URL:       a.opts.PageURL,
		UserAgent: a.opts.UserAgent,
		Timestamp: a.now().UnixMilli(),
		Metrics:   samples,
		Summary:   a.summaryLocked(),
	}
}

// startLocked reports whether report goes out asynchronously and, if so,
// counts it as in flight.
func (a *Aggregator) startLocked(report *types.Report, immediate bool) bool {
	if report == nil {
		return false
	}
	if immediate && a.beaconer != nil {
		return false
	}
	a.inflight++
	return true
}

func (a *Aggregator) sendDone() {
	a.mu.Lock()
	a.inflight--
	if a.inflight == 0 {
		a.idle.Broadcast()
	}
	a.mu.Unlock()
}

func (a *Aggregator) deliver(report *types.Report, async bool) {
	if !async {
		if !a.beaconer.Beacon(report) {
			a.logFailure(report, errors.New("beacon not queued"))
		}
		return
	}

	go func() {
		defer a.sendDone()
		ctx, cancel := context.WithTimeout(context.Background(), a.opts.SendTimeout)
		defer cancel()
		if err := a.transport.Send(ctx, report); err != nil {
			a.logFailure(report, err)
		}
	}()
}

func (a *Aggregator) logFailure(report *types.Report, err error) {
	if !a.opts.DebugMode {
		return
	}
	a.logger.WithError(err).WithField("samples", len(report.Metrics)).Warn("Report delivery failed")
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}
