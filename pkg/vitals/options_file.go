package vitals

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// OptionsFile is the YAML form of Options. Durations are milliseconds and
// unset fields keep the value of the base options.
type OptionsFile struct {
	EnableCoreWebVitals *bool              `yaml:"enableCoreWebVitals,omitempty"`
	BufferSize          *int               `yaml:"bufferSize,omitempty"`
	ReportInterval      *int64             `yaml:"reportInterval,omitempty"`
	ReportingEndpoint   *string            `yaml:"reportingEndpoint,omitempty"`
	DebugMode           *bool              `yaml:"debugMode,omitempty"`
	PageURL             *string            `yaml:"url,omitempty"`
	UserAgent           *string            `yaml:"userAgent,omitempty"`
	SendTimeout         *int64             `yaml:"sendTimeout,omitempty"`
	Thresholds          ThresholdOverrides `yaml:"thresholds,omitempty"`
}

// LoadOptions decodes a YAML document from r and applies it on top of base.
// Unknown keys are rejected. An empty document returns base unchanged.
func LoadOptions(r io.Reader, base Options) (Options, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return base, fmt.Errorf("read options: %w", err)
	}

	var file OptionsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return base, fmt.Errorf("parse options: %w", err)
	}

	opts := file.Apply(base)
	if err := opts.Validate(); err != nil {
		return base, fmt.Errorf("invalid options: %w", err)
	}
	return opts, nil
}

// Apply overlays the set fields of f onto base.
func (f OptionsFile) Apply(base Options) Options {
	if f.EnableCoreWebVitals != nil {
		base.EnableCoreWebVitals = *f.EnableCoreWebVitals
	}
	if f.BufferSize != nil {
		base.BufferSize = *f.BufferSize
	}
	if f.ReportInterval != nil {
		base.ReportInterval = time.Duration(*f.ReportInterval) * time.Millisecond
	}
	if f.ReportingEndpoint != nil {
		base.ReportingEndpoint = *f.ReportingEndpoint
	}
	if f.DebugMode != nil {
		base.DebugMode = *f.DebugMode
	}
	if f.PageURL != nil {
		base.PageURL = *f.PageURL
	}
	if f.UserAgent != nil {
		base.UserAgent = *f.UserAgent
	}
	if f.SendTimeout != nil {
		base.SendTimeout = time.Duration(*f.SendTimeout) * time.Millisecond
	}
	if len(f.Thresholds) > 0 {
		if base.Thresholds == nil {
			base.Thresholds = DefaultThresholds()
		}
		base.Thresholds = f.Thresholds.ApplyTo(base.Thresholds)
	}
	return base
}
