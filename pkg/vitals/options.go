package vitals

import (
	"fmt"
	"time"
)

const (
	DefaultBufferSize        = 100
	DefaultReportInterval    = 30 * time.Second
	DefaultReportingEndpoint = "/api/performance"
	DefaultSendTimeout       = 10 * time.Second
	DefaultUserAgent         = "pagevitals"
)

// Options configures an Aggregator.
type Options struct {
	// EnableCoreWebVitals gates the LCP, FID, INP and CLS observers.
	EnableCoreWebVitals bool
	BufferSize          int
	ReportInterval      time.Duration
	ReportingEndpoint   string
	DebugMode           bool

	// PageURL and UserAgent are copied into every report envelope.
	PageURL   string
	UserAgent string

	// SendTimeout bounds a single asynchronous delivery.
	SendTimeout time.Duration
	Thresholds  Thresholds
}

func DefaultOptions() Options {
	return Options{
		EnableCoreWebVitals: true,
		BufferSize:          DefaultBufferSize,
		ReportInterval:      DefaultReportInterval,
		ReportingEndpoint:   DefaultReportingEndpoint,
		UserAgent:           DefaultUserAgent,
		SendTimeout:         DefaultSendTimeout,
		Thresholds:          DefaultThresholds(),
	}
}

func (o Options) Validate() error {
	if o.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be > 0, got %d", o.BufferSize)
	}
	if o.ReportInterval <= 0 {
		return fmt.Errorf("report interval must be > 0, got %s", o.ReportInterval)
	}
	if o.ReportingEndpoint == "" {
		return fmt.Errorf("reporting endpoint is required")
	}
	if o.SendTimeout <= 0 {
		return fmt.Errorf("send timeout must be > 0, got %s", o.SendTimeout)
	}
	if err := o.Thresholds.Validate(); err != nil {
		return err
	}
	return nil
}
