// Package cdpsource turns Chrome DevTools PerformanceTimeline events into
// aggregator entry batches.
package cdpsource

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/performancetimeline"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/sirupsen/logrus"

	"github.com/saveenergy/pagevitals/pkg/vitals"
)

const writeWait = 10 * time.Second

// TimelineEventTypes are the timeline event types the source enables.
var TimelineEventTypes = []string{
	vitals.EntryLargestContentfulPaint,
	vitals.EntryLayoutShift,
}

// Source is one DevTools target connection.
type Source struct {
	conn    *websocket.Conn
	logger  logrus.FieldLogger
	msgID   int64
	writeMu sync.Mutex

	originMu sync.RWMutex
	origin   time.Time
}

// Dial connects to a DevTools target websocket such as
// ws://127.0.0.1:9222/devtools/page/<id>. The page time origin defaults to
// the moment of connection.
func Dial(ctx context.Context, wsURL string, logger logrus.FieldLogger) (*Source, error) {
	wd := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1 << 16,
		WriteBufferSize:  1 << 12,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, _, err := wd.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("connect devtools: %w", err)
	}
	return &Source{
		conn:   conn,
		logger: logger.WithField("source", "cdp"),
		origin: time.Now(),
	}, nil
}

// SetOrigin sets the wall-clock time that entry times are relative to.
func (s *Source) SetOrigin(t time.Time) {
	s.originMu.Lock()
	defer s.originMu.Unlock()
	s.origin = t
}

func (s *Source) Origin() time.Time {
	s.originMu.RLock()
	defer s.originMu.RUnlock()
	return s.origin
}

// Enable subscribes to largest-contentful-paint and layout-shift timeline
// events.
func (s *Source) Enable(ctx context.Context) error {
	_, err := s.execute(ctx, performancetimeline.CommandEnable, performancetimeline.Enable(TimelineEventTypes))
	return err
}

// Navigate loads url in the target and resets the time origin.
func (s *Source) Navigate(ctx context.Context, url string) error {
	s.SetOrigin(time.Now())
	_, err := s.execute(ctx, page.CommandNavigate, page.Navigate(url))
	return err
}

func (s *Source) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return s.conn.Close()
}

// Run reads frames until ctx is done or the connection fails and passes
// every non-empty converted batch to handle. A cancelled ctx is not an error.
func (s *Source) Run(ctx context.Context, handle func(vitals.Batch)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.conn.Close()
		case <-done:
		}
	}()

	for {
		_, buf, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read devtools frame: %w", err)
		}

		var msg cdproto.Message
		if err := easyjson.Unmarshal(buf, &msg); err != nil {
			s.logger.WithError(err).Debug("Skipping undecodable frame")
			continue
		}
		if msg.Method == "" {
			if msg.Error != nil {
				return fmt.Errorf("devtools command %d: %w", msg.ID, msg.Error)
			}
			continue
		}
		if msg.Method != cdproto.EventPerformanceTimelineTimelineEventAdded {
			continue
		}

		ev, err := cdproto.UnmarshalMessage(&msg)
		if err != nil {
			s.logger.WithError(err).Warn("Couldn't decode timeline event")
			continue
		}
		added, ok := ev.(*performancetimeline.EventTimelineEventAdded)
		if !ok || added.Event == nil {
			continue
		}
		if batch := Convert(added.Event, s.Origin()); batch.Len() > 0 {
			handle(batch)
		}
	}
}

func (s *Source) execute(ctx context.Context, method string, params easyjson.Marshaler) (int64, error) {
	var (
		buf []byte
		err error
	)
	if params != nil {
		if buf, err = easyjson.Marshal(params); err != nil {
			return 0, fmt.Errorf("marshal %s params: %w", method, err)
		}
	}

	id := atomic.AddInt64(&s.msgID, 1)
	data, err := easyjson.Marshal(&cdproto.Message{
		ID:     id,
		Method: cdproto.MethodType(method),
		Params: buf,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal %s: %w", method, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return 0, fmt.Errorf("send %s: %w", method, err)
	}
	return id, nil
}

// Convert maps one timeline event onto an entry batch with times relative to
// origin. Unknown event types yield an empty batch.
func Convert(ev *performancetimeline.TimelineEvent, origin time.Time) vitals.Batch {
	var b vitals.Batch
	at := since(ev.Time, origin)

	switch ev.Type {
	case vitals.EntryLargestContentfulPaint:
		entry := vitals.LCPEntry{StartTime: at}
		if d := ev.LcpDetails; d != nil {
			entry.RenderTime = since(d.RenderTime, origin)
			entry.LoadTime = since(d.LoadTime, origin)
			entry.Size = d.Size
			entry.URL = d.URL
			entry.ElementID = d.ElementID
			switch {
			case entry.RenderTime > 0:
				entry.StartTime = entry.RenderTime
			case entry.LoadTime > 0:
				entry.StartTime = entry.LoadTime
			}
		}
		b.LCP = append(b.LCP, entry)
	case vitals.EntryLayoutShift:
		d := ev.LayoutShiftDetails
		if d == nil {
			break
		}
		b.LayoutShifts = append(b.LayoutShifts, vitals.LayoutShiftEntry{
			StartTime:      at,
			Value:          d.Value,
			HadRecentInput: d.HadRecentInput,
		})
	}
	return b
}

// since returns milliseconds from origin to t, or 0 for unset or earlier times.
func since(t *cdp.TimeSinceEpoch, origin time.Time) float64 {
	if t == nil {
		return 0
	}
	tt := t.Time()
	if tt.Unix() <= 0 || tt.Before(origin) {
		return 0
	}
	return float64(tt.Sub(origin).Round(time.Microsecond).Microseconds()) / 1000
}
