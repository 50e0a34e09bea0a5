package vitals

import (
	"errors"
	"strconv"

	"github.com/tidwall/gjson"
)

var ErrInvalidTrace = errors.New("invalid entry trace")

// DecodeTrace parses a recorded entry trace. Accepted shapes:
//
//	[entry, ...]                   one batch
//	{"entries": [entry, ...]}      one batch
//	{"batches": [[entry, ...], ...]}
//
// Entries of unknown type are skipped. Missing or mistyped numeric fields
// decode as 0.
func DecodeTrace(data []byte) ([]Batch, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidTrace
	}
	root := gjson.ParseBytes(data)

	switch {
	case root.IsArray():
		return []Batch{DecodeBatch(root)}, nil
	case root.Get("batches").IsArray():
		var batches []Batch
		root.Get("batches").ForEach(func(_, value gjson.Result) bool {
			if value.IsArray() {
				batches = append(batches, DecodeBatch(value))
			}
			return true
		})
		return batches, nil
	case root.Get("entries").IsArray():
		return []Batch{DecodeBatch(root.Get("entries"))}, nil
	}
	return nil, ErrInvalidTrace
}

// DecodeBatch converts a JSON array of PerformanceEntry objects.
func DecodeBatch(entries gjson.Result) Batch {
	var b Batch
	entries.ForEach(func(_, e gjson.Result) bool {
		decodeEntry(&b, e)
		return true
	})
	return b
}

func decodeEntry(b *Batch, e gjson.Result) {
	num := func(field string) float64 { return finite(e.Get(field).Float()) }

	switch e.Get("entryType").String() {
	case EntryLargestContentfulPaint:
		b.LCP = append(b.LCP, LCPEntry{
			StartTime:  num("startTime"),
			RenderTime: num("renderTime"),
			LoadTime:   num("loadTime"),
			Size:       num("size"),
			URL:        e.Get("url").String(),
			ElementID:  e.Get("id").String(),
		})
	case EntryFirstInput:
		b.FirstInput = append(b.FirstInput, FirstInputEntry{
			Name:            e.Get("name").String(),
			StartTime:       num("startTime"),
			ProcessingStart: num("processingStart"),
			ProcessingEnd:   num("processingEnd"),
			Duration:        num("duration"),
		})
	case EntryEvent:
		b.Interactions = append(b.Interactions, InteractionEntry{
			InteractionID: interactionID(e.Get("interactionId")),
			Name:          e.Get("name").String(),
			StartTime:     num("startTime"),
			Duration:      num("duration"),
		})
	case EntryLayoutShift:
		b.LayoutShifts = append(b.LayoutShifts, LayoutShiftEntry{
			StartTime:      num("startTime"),
			Value:          num("value"),
			HadRecentInput: e.Get("hadRecentInput").Bool(),
		})
	case EntryPaint:
		b.Paints = append(b.Paints, PaintEntry{
			Name:      e.Get("name").String(),
			StartTime: num("startTime"),
		})
	case EntryNavigation:
		b.Navigation = append(b.Navigation, NavigationEntry{
			Name:                     e.Get("name").String(),
			Type:                     e.Get("type").String(),
			StartTime:                num("startTime"),
			DomainLookupStart:        num("domainLookupStart"),
			DomainLookupEnd:          num("domainLookupEnd"),
			ConnectStart:             num("connectStart"),
			ConnectEnd:               num("connectEnd"),
			SecureConnectionStart:    num("secureConnectionStart"),
			RequestStart:             num("requestStart"),
			ResponseStart:            num("responseStart"),
			ResponseEnd:              num("responseEnd"),
			DOMInteractive:           num("domInteractive"),
			DOMContentLoadedEventEnd: num("domContentLoadedEventEnd"),
			LoadEventEnd:             num("loadEventEnd"),
		})
	case EntryResource:
		b.Resources = append(b.Resources, ResourceEntry{
			Name:            e.Get("name").String(),
			InitiatorType:   e.Get("initiatorType").String(),
			StartTime:       num("startTime"),
			Duration:        num("duration"),
			TransferSize:    num("transferSize"),
			EncodedBodySize: num("encodedBodySize"),
			DecodedBodySize: num("decodedBodySize"),
		})
	case EntryLongTask:
		var attribution []string
		e.Get("attribution").ForEach(func(_, a gjson.Result) bool {
			if name := a.Get("containerName").String(); name != "" {
				attribution = append(attribution, name)
			} else if name := a.Get("name").String(); name != "" {
				attribution = append(attribution, name)
			}
			return true
		})
		b.LongTasks = append(b.LongTasks, LongTaskEntry{
			Name:        e.Get("name").String(),
			StartTime:   num("startTime"),
			Duration:    num("duration"),
			Attribution: attribution,
		})
	}
}

// interactionID normalises the browser's numeric id: 0 means "no
// interaction" and maps to the empty string.
func interactionID(v gjson.Result) string {
	switch v.Type {
	case gjson.Number:
		if v.Float() == 0 {
			return ""
		}
		return strconv.FormatInt(v.Int(), 10)
	case gjson.String:
		return v.String()
	}
	return ""
}
