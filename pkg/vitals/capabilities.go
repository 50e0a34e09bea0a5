package vitals

// Capabilities is the fixed set of features available to an Aggregator. It
// is computed once by a Probe when the aggregator is constructed.
type Capabilities struct {
	// PerformanceObserver gates every observer.
	PerformanceObserver bool
	// Beacon enables the fire-and-forget delivery path.
	Beacon bool
	// EntryTypes lists the supported entry types. A nil map means all.
	EntryTypes map[string]bool
}

// Supports reports whether entries of entryType can be observed.
func (c Capabilities) Supports(entryType string) bool {
	if !c.PerformanceObserver {
		return false
	}
	if c.EntryTypes == nil {
		return true
	}
	return c.EntryTypes[entryType]
}

// Probe detects the capabilities of the host environment.
type Probe interface {
	Probe() Capabilities
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func() Capabilities

func (f ProbeFunc) Probe() Capabilities { return f() }

// FullCapabilities enables every observer and the beacon path.
func FullCapabilities() Capabilities {
	return Capabilities{PerformanceObserver: true, Beacon: true}
}

// StaticProbe always returns c.
func StaticProbe(c Capabilities) Probe {
	return ProbeFunc(func() Capabilities { return c })
}

// EntryTypeProbe reports support for exactly the listed entry types, the way
// PerformanceObserver.supportedEntryTypes does.
func EntryTypeProbe(beacon bool, entryTypes ...string) Probe {
	return ProbeFunc(func() Capabilities {
		supported := make(map[string]bool, len(entryTypes))
		for _, t := range entryTypes {
			supported[t] = true
		}
		return Capabilities{
			PerformanceObserver: len(entryTypes) > 0,
			Beacon:              beacon,
			EntryTypes:          supported,
		}
	})
}
