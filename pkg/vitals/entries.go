package vitals

// Performance entry types as reported by PerformanceObserver.
const (
	EntryLargestContentfulPaint = "largest-contentful-paint"
	EntryFirstInput             = "first-input"
	EntryEvent                  = "event"
	EntryLayoutShift            = "layout-shift"
	EntryPaint                  = "paint"
	EntryNavigation             = "navigation"
	EntryResource               = "resource"
	EntryLongTask               = "longtask"
)

// EntryTypes lists every entry type the aggregator observes.
var EntryTypes = []string{
	EntryLargestContentfulPaint,
	EntryFirstInput,
	EntryEvent,
	EntryLayoutShift,
	EntryPaint,
	EntryNavigation,
	EntryResource,
	EntryLongTask,
}

const firstContentfulPaint = "first-contentful-paint"

// All times are milliseconds relative to the page time origin.

type LCPEntry struct {
	StartTime  float64
	RenderTime float64
	LoadTime   float64
	Size       float64
	URL        string
	ElementID  string
}

type FirstInputEntry struct {
	Name            string
	StartTime       float64
	ProcessingStart float64
	ProcessingEnd   float64
	Duration        float64
}

// InteractionEntry is an "event" timing entry. Entries without an
// InteractionID are not user interactions.
type InteractionEntry struct {
	InteractionID string
	Name          string
	StartTime     float64
	Duration      float64
}

type LayoutShiftEntry struct {
	StartTime      float64
	Value          float64
	HadRecentInput bool
}

type PaintEntry struct {
	Name      string
	StartTime float64
}

type NavigationEntry struct {
	Name                     string
	Type                     string
	StartTime                float64
	DomainLookupStart        float64
	DomainLookupEnd          float64
	ConnectStart             float64
	ConnectEnd               float64
	SecureConnectionStart    float64
	RequestStart             float64
	ResponseStart            float64
	ResponseEnd              float64
	DOMInteractive           float64
	DOMContentLoadedEventEnd float64
	LoadEventEnd             float64
}

type ResourceEntry struct {
	Name            string
	InitiatorType   string
	StartTime       float64
	Duration        float64
	TransferSize    float64
	EncodedBodySize float64
	DecodedBodySize float64
}

type LongTaskEntry struct {
	Name        string
	StartTime   float64
	Duration    float64
	Attribution []string
}

// Batch groups the entries delivered by one round of observer callbacks.
type Batch struct {
	LCP          []LCPEntry
	FirstInput   []FirstInputEntry
	Interactions []InteractionEntry
	LayoutShifts []LayoutShiftEntry
	Paints       []PaintEntry
	Navigation   []NavigationEntry
	Resources    []ResourceEntry
	LongTasks    []LongTaskEntry
}

// Len returns the number of entries in b.
func (b Batch) Len() int {
	return len(b.LCP) + len(b.FirstInput) + len(b.Interactions) + len(b.LayoutShifts) +
		len(b.Paints) + len(b.Navigation) + len(b.Resources) + len(b.LongTasks)
}
