package cdpsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNoTarget is returned when a DevTools endpoint lists no page targets.
var ErrNoTarget = errors.New("no page target")

// Target is a page listed by a DevTools endpoint.
type Target struct {
	WebSocketURL string
	// PageURL is the document URL at listing time. It is empty when the
	// target was given as a websocket address.
	PageURL string
}

// ResolveTarget turns a DevTools address into a page websocket URL.
func ResolveTarget(ctx context.Context, addr, match string) (string, error) {
	t, err := FindTarget(ctx, addr, match)
	return t.WebSocketURL, err
}

// FindTarget resolves a DevTools address. ws:// and wss:// addresses are
// used unchanged. For http:// addresses the /json/list endpoint is queried
// and the first page target whose URL contains match (or any page when
// match is empty) is chosen.
func FindTarget(ctx context.Context, addr, match string) (Target, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return Target{}, fmt.Errorf("parse devtools address: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
		return Target{WebSocketURL: addr}, nil
	case "http", "https":
	default:
		return Target{}, fmt.Errorf("unsupported devtools scheme %q", u.Scheme)
	}

	list := u.ResolveReference(&url.URL{Path: "/json/list"})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, list.String(), nil)
	if err != nil {
		return Target{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Target{}, fmt.Errorf("list devtools targets: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Target{}, fmt.Errorf("list devtools targets: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Target{}, fmt.Errorf("read devtools targets: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return Target{}, errors.New("devtools target list is not valid JSON")
	}

	var found Target
	gjson.ParseBytes(body).ForEach(func(_, target gjson.Result) bool {
		if target.Get("type").String() != "page" {
			return true
		}
		ws := target.Get("webSocketDebuggerUrl").String()
		if ws == "" {
			return true
		}
		if match != "" && !strings.Contains(target.Get("url").String(), match) {
			return true
		}
		found = Target{WebSocketURL: ws, PageURL: target.Get("url").String()}
		return false
	})
	if found.WebSocketURL == "" {
		return Target{}, ErrNoTarget
	}
	return found, nil
}
