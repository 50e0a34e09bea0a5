package cdpsource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/performancetimeline"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/saveenergy/pagevitals/pkg/vitals"
)

var origin = time.Unix(1700000000, 0)

func epoch(d time.Duration) *cdp.TimeSinceEpoch {
	t := cdp.TimeSinceEpoch(origin.Add(d))
	return &t
}

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestConvertLCP(t *testing.T) {
	b := Convert(&performancetimeline.TimelineEvent{
		Type: vitals.EntryLargestContentfulPaint,
		Time: epoch(1600 * time.Millisecond),
		LcpDetails: &performancetimeline.LargestContentfulPaint{
			RenderTime: epoch(1500 * time.Millisecond),
			Size:       4200,
			ElementID:  "hero",
			URL:        "https://example.com/hero.jpg",
		},
	}, origin)

	require.Len(t, b.LCP, 1)
	assert.InDelta(t, 1500, b.LCP[0].StartTime, 0.01)
	assert.InDelta(t, 1500, b.LCP[0].RenderTime, 0.01)
	assert.Zero(t, b.LCP[0].LoadTime)
	assert.Equal(t, 4200.0, b.LCP[0].Size)
	assert.Equal(t, "hero", b.LCP[0].ElementID)
	assert.Equal(t, 1, b.Len())
}

func TestConvertLayoutShift(t *testing.T) {
	b := Convert(&performancetimeline.TimelineEvent{
		Type: vitals.EntryLayoutShift,
		Time: epoch(2 * time.Second),
		LayoutShiftDetails: &performancetimeline.LayoutShift{
			Value:          0.12,
			HadRecentInput: true,
		},
	}, origin)

	require.Len(t, b.LayoutShifts, 1)
	assert.InDelta(t, 2000, b.LayoutShifts[0].StartTime, 0.01)
	assert.Equal(t, 0.12, b.LayoutShifts[0].Value)
	assert.True(t, b.LayoutShifts[0].HadRecentInput)
}

func TestConvertIgnoresUnknownAndEarlyTimes(t *testing.T) {
	assert.Zero(t, Convert(&performancetimeline.TimelineEvent{Type: "paint", Time: epoch(time.Second)}, origin).Len())
	assert.Zero(t, Convert(&performancetimeline.TimelineEvent{Type: vitals.EntryLayoutShift, Time: epoch(time.Second)}, origin).Len())

	b := Convert(&performancetimeline.TimelineEvent{Type: vitals.EntryLargestContentfulPaint, Time: epoch(-time.Second)}, origin)
	require.Len(t, b.LCP, 1)
	assert.Zero(t, b.LCP[0].StartTime)
}

// fakeTarget answers every command with reply(id) and then sends events.
func fakeTarget(t *testing.T, reply func(id int64) string, events ...string) (*httptest.Server, *[]string) {
	t.Helper()
	var (
		mu      sync.Mutex
		methods []string
	)
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/devtools/page/1", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		cmd := gjson.ParseBytes(frame)
		mu.Lock()
		methods = append(methods, cmd.Get("method").String()+" "+cmd.Get("params").Raw)
		mu.Unlock()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(reply(cmd.Get("id").Int())))

		for _, ev := range events {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(ev))
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_, _, _ = conn.ReadMessage()
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		fmt.Fprintf(w, `[
			{"type":"service_worker","url":"https://example.com/sw.js","webSocketDebuggerUrl":"ws://%s/devtools/page/9"},
			{"type":"page","url":"https://example.com/","webSocketDebuggerUrl":"ws://%s/devtools/page/1"}
		]`, host, host)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &methods
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/devtools/page/1"
}

func TestRunDeliversBatches(t *testing.T) {
	lcp := fmt.Sprintf(`{"method":"PerformanceTimeline.timelineEventAdded","params":{"event":{"frameId":"F1","type":"largest-contentful-paint","name":"","time":%d.5,"lcpDetails":{"renderTime":%d.5,"size":5000,"elementId":"hero"}}}}`,
		origin.Unix()+1, origin.Unix()+1)
	shift := fmt.Sprintf(`{"method":"PerformanceTimeline.timelineEventAdded","params":{"event":{"frameId":"F1","type":"layout-shift","name":"","time":%d,"layoutShiftDetails":{"value":0.05,"hadRecentInput":false,"sources":[]}}}}`,
		origin.Unix()+2)
	other := `{"method":"Page.loadEventFired","params":{"timestamp":1}}`

	srv, methods := fakeTarget(t, func(id int64) string {
		return fmt.Sprintf(`{"id":%d,"result":{}}`, id)
	}, other, lcp, shift)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src, err := Dial(ctx, wsURL(srv), testLogger())
	require.NoError(t, err)
	defer src.Close()
	src.SetOrigin(origin)
	require.NoError(t, src.Enable(ctx))

	var batches []vitals.Batch
	require.NoError(t, src.Run(ctx, func(b vitals.Batch) { batches = append(batches, b) }))

	require.Len(t, batches, 2)
	require.Len(t, batches[0].LCP, 1)
	assert.InDelta(t, 1500, batches[0].LCP[0].StartTime, 0.01)
	assert.Equal(t, "hero", batches[0].LCP[0].ElementID)
	require.Len(t, batches[1].LayoutShifts, 1)
	assert.Equal(t, 0.05, batches[1].LayoutShifts[0].Value)

	require.Len(t, *methods, 1)
	assert.Equal(t, `PerformanceTimeline.enable {"eventTypes":["largest-contentful-paint","layout-shift"]}`, (*methods)[0])
}

func TestRunReturnsCommandError(t *testing.T) {
	srv, _ := fakeTarget(t, func(id int64) string {
		return fmt.Sprintf(`{"id":%d,"error":{"code":-32601,"message":"'PerformanceTimeline.enable' wasn't found"}}`, id)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src, err := Dial(ctx, wsURL(srv), testLogger())
	require.NoError(t, err)
	defer src.Close()
	require.NoError(t, src.Enable(ctx))

	err = src.Run(ctx, func(vitals.Batch) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wasn't found")
}

func TestResolveTarget(t *testing.T) {
	srv, _ := fakeTarget(t, func(id int64) string { return "{}" })
	ctx := context.Background()

	ws, err := ResolveTarget(ctx, srv.URL, "")
	require.NoError(t, err)
	assert.Equal(t, wsURL(srv), ws)

	_, err = ResolveTarget(ctx, srv.URL, "checkout")
	assert.ErrorIs(t, err, ErrNoTarget)

	direct := "ws://127.0.0.1:9222/devtools/page/ABC"
	ws, err = ResolveTarget(ctx, direct, "")
	require.NoError(t, err)
	assert.Equal(t, direct, ws)

	_, err = ResolveTarget(ctx, "ftp://host", "")
	assert.Error(t, err)
}

func TestFindTargetPageURL(t *testing.T) {
	srv, _ := fakeTarget(t, func(id int64) string { return "{}" })
	ctx := context.Background()

	target, err := FindTarget(ctx, srv.URL, "example.com")
	require.NoError(t, err)
	assert.Equal(t, Target{WebSocketURL: wsURL(srv), PageURL: "https://example.com/"}, target)

	direct := "ws://127.0.0.1:9222/devtools/page/ABC"
	target, err = FindTarget(ctx, direct, "")
	require.NoError(t, err)
	assert.Equal(t, Target{WebSocketURL: direct}, target)
}
