package vitals

import (
	"github.com/saveenergy/pagevitals/pkg/types"
)

// Observe dispatches every entry group of b to its observer.
func (a *Aggregator) Observe(b Batch) {
	a.ObserveNavigation(b.Navigation)
	a.ObservePaints(b.Paints)
	a.ObserveLCP(b.LCP)
	a.ObserveFirstInput(b.FirstInput)
	a.ObserveInteractions(b.Interactions)
	a.ObserveLayoutShifts(b.LayoutShifts)
	a.ObserveResources(b.Resources)
	a.ObserveLongTasks(b.LongTasks)
}

// ObserveLCP reports the last entry of the batch as the current LCP
// candidate.
func (a *Aggregator) ObserveLCP(entries []LCPEntry) {
	if len(entries) == 0 || !a.coreEnabled(EntryLargestContentfulPaint) {
		return
	}
	last := entries[len(entries)-1]
	a.Record(a.rated(types.MetricLCP, last.StartTime, map[string]interface{}{
		"size":    last.Size,
		"url":     last.URL,
		"element": last.ElementID,
	}))
}

// ObserveFirstInput reports processingStart - startTime for each entry.
func (a *Aggregator) ObserveFirstInput(entries []FirstInputEntry) {
	if len(entries) == 0 || !a.coreEnabled(EntryFirstInput) {
		return
	}
	for _, e := range entries {
		a.Record(a.rated(types.MetricFID, e.ProcessingStart-e.StartTime, map[string]interface{}{
			"eventType": e.Name,
			"startTime": e.StartTime,
		}))
	}
}

// ObserveInteractions pushes every entry carrying an interaction id into the
// interaction window and reports the recomputed INP after each push.
func (a *Aggregator) ObserveInteractions(entries []InteractionEntry) {
	if len(entries) == 0 || !a.coreEnabled(EntryEvent) {
		return
	}

	var samples []types.MetricSample
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return
	}
	for _, e := range entries {
		if e.InteractionID == "" {
			continue
		}
		a.interactions.Push(Interaction{
			InteractionID: e.InteractionID,
			Latency:       e.Duration,
			StartTime:     e.StartTime,
		})
		samples = append(samples, a.rated(types.MetricINP, a.interactions.INP(), map[string]interface{}{
			"interactionId": e.InteractionID,
			"eventType":     e.Name,
			"interactions":  a.interactions.Len(),
		}))
	}
	a.mu.Unlock()

	for _, s := range samples {
		a.Record(s)
	}
}

// ObserveLayoutShifts folds shifts without recent input into the session
// window and reports the running maximum once per batch.
func (a *Aggregator) ObserveLayoutShifts(entries []LayoutShiftEntry) {
	if len(entries) == 0 || !a.coreEnabled(EntryLayoutShift) {
		return
	}

	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return
	}
	counted := false
	cls := a.shifts.Max()
	for _, e := range entries {
		if e.HadRecentInput {
			continue
		}
		cls = a.shifts.Add(Shift{StartTime: e.StartTime, Value: e.Value})
		counted = true
	}
	sessionValue := a.shifts.SessionValue()
	sessionEntries := len(a.shifts.Entries())
	a.mu.Unlock()

	if !counted {
		return
	}
	a.Record(a.rated(types.MetricCLS, cls, map[string]interface{}{
		"sessionValue":   sessionValue,
		"sessionEntries": sessionEntries,
	}))
}

// ObservePaints reports the first first-contentful-paint entry of the page.
func (a *Aggregator) ObservePaints(entries []PaintEntry) {
	if len(entries) == 0 || !a.caps.Supports(EntryPaint) {
		return
	}

	a.mu.Lock()
	if a.destroyed || a.fcpSeen {
		a.mu.Unlock()
		return
	}
	var fcp *PaintEntry
	for i := range entries {
		if entries[i].Name == firstContentfulPaint {
			fcp = &entries[i]
			a.fcpSeen = true
			break
		}
	}
	a.mu.Unlock()

	if fcp != nil {
		a.Record(a.rated(types.MetricFCP, fcp.StartTime, nil))
	}
}

// ObserveNavigation reports the approximate TTI (domInteractive) and a
// navigation timing breakdown. Missing timestamps degrade the affected
// phase to 0.
func (a *Aggregator) ObserveNavigation(entries []NavigationEntry) {
	if len(entries) == 0 || !a.caps.Supports(EntryNavigation) {
		return
	}
	for _, e := range entries {
		if e.DOMInteractive > 0 {
			a.Record(a.rated(types.MetricTTI, e.DOMInteractive, nil))
		}
		a.Record(NewSample(types.MetricNavigation, sinceOrigin(e.LoadEventEnd, e.StartTime), "", a.now(), map[string]interface{}{
			"type":             e.Type,
			"dns":              span(e.DomainLookupEnd, e.DomainLookupStart),
			"tcp":              span(e.ConnectEnd, e.ConnectStart),
			"tls":              span(e.ConnectEnd, e.SecureConnectionStart),
			"ttfb":             span(e.ResponseStart, e.RequestStart),
			"download":         span(e.ResponseEnd, e.ResponseStart),
			"domInteractive":   e.DOMInteractive,
			"domContentLoaded": sinceOrigin(e.DOMContentLoadedEventEnd, e.StartTime),
			"load":             sinceOrigin(e.LoadEventEnd, e.StartTime),
		}))
	}
}

// ObserveResources records resources that have at least one issue.
func (a *Aggregator) ObserveResources(entries []ResourceEntry) {
	if len(entries) == 0 || !a.caps.Supports(EntryResource) {
		return
	}
	for _, e := range entries {
		issues := ClassifyResource(e)
		if len(issues) == 0 {
			continue
		}
		names := make([]string, len(issues))
		for i, issue := range issues {
			names[i] = string(issue)
		}
		a.Record(NewSample(types.MetricResource, e.Duration, "", a.now(), map[string]interface{}{
			"url":             e.Name,
			"initiatorType":   e.InitiatorType,
			"issues":          names,
			"transferSize":    e.TransferSize,
			"encodedBodySize": e.EncodedBodySize,
			"decodedBodySize": e.DecodedBodySize,
		}))
	}
}

// ObserveLongTasks forwards tasks longer than 50ms as alert samples.
func (a *Aggregator) ObserveLongTasks(entries []LongTaskEntry) {
	if len(entries) == 0 || !a.caps.Supports(EntryLongTask) {
		return
	}
	for _, e := range entries {
		if !IsLongTask(e) {
			continue
		}
		a.Record(NewSample(types.MetricLongTask, e.Duration, "", a.now(), map[string]interface{}{
			"name":        e.Name,
			"startTime":   e.StartTime,
			"attribution": e.Attribution,
		}))
	}
}

func (a *Aggregator) coreEnabled(entryType string) bool {
	return a.opts.EnableCoreWebVitals && a.caps.Supports(entryType)
}

func (a *Aggregator) rated(metric string, value float64, extra map[string]interface{}) types.MetricSample {
	value = finite(value)
	return NewSample(metric, value, a.opts.Thresholds.Rate(metric, value), a.now(), extra)
}

// span returns end - start, or 0 when either timestamp is missing or the
// phase did not happen.
func span(end, start float64) float64 {
	if end <= 0 || start <= 0 || end < start {
		return 0
	}
	return end - start
}

// sinceOrigin returns ts relative to the navigation start, or 0 when missing.
func sinceOrigin(ts, origin float64) float64 {
	if ts <= 0 || ts < origin {
		return 0
	}
	return ts - origin
}
