package vitals

import (
	"fmt"
	"sync"
	"time"
)

// periodicFlusher calls flushCallback on every tick until stopped. Unlike a
// collector flusher it does not flush on Stop: the owner picks the delivery
// path of the last report.
type periodicFlusher struct {
	period        time.Duration
	flushCallback func()
	stop          chan struct{}
	stopped       chan struct{}
	stopOnce      sync.Once
}

func newPeriodicFlusher(period time.Duration, flushCallback func()) (*periodicFlusher, error) {
	if period <= 0 {
		return nil, fmt.Errorf("report interval should be positive but was %s", period)
	}

	pf := &periodicFlusher{
		period:        period,
		flushCallback: flushCallback,
		stop:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go pf.run()
	return pf, nil
}

func (pf *periodicFlusher) run() {
	defer close(pf.stopped)
	ticker := time.NewTicker(pf.period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pf.flushCallback()
		case <-pf.stop:
			return
		}
	}
}

// Stop waits for the loop to exit. Safe to call more than once.
func (pf *periodicFlusher) Stop() {
	pf.stopOnce.Do(func() { close(pf.stop) })
	<-pf.stopped
}
