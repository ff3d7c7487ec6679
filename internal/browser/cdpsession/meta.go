package cdpsession

import (
	"sync"

	"github.com/chromedp/cdproto/network"

	"github.com/iantaiahn/topicscraper/internal/browser"
)

// responseMeta keeps the latest main-document response.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
	seen   bool
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.seen = true
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (browser.Response, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return browser.Response{URL: m.url, Status: m.status}, m.seen
}
