package browser

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type eventClock struct {
	wall time.Time
	mono time.Time
}

func newEventClock() *eventClock {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &eventClock{wall: now, mono: now}
}

func (c *eventClock) advance(d time.Duration) {
	c.wall = c.wall.Add(d)
	c.mono = c.mono.Add(d)
}

func (c *eventClock) wallTime() *cdp.TimeSinceEpoch {
	t := cdp.TimeSinceEpoch(c.wall)
	return &t
}

func (c *eventClock) monoTime() *cdp.MonotonicTime {
	t := cdp.MonotonicTime(c.mono)
	return &t
}

func requestSent(c *eventClock, id, url string, typ network.ResourceType) *network.EventRequestWillBeSent {
	return &network.EventRequestWillBeSent{
		RequestID: network.RequestID(id),
		FrameID:   "main",
		Type:      typ,
		WallTime:  c.wallTime(),
		Timestamp: c.monoTime(),
		Request: &network.Request{
			URL:     url,
			Method:  "GET",
			Headers: network.Headers{"Cookie": "session=abc; theme=dark", "Accept": "*/*"},
		},
	}
}

func responseReceived(c *eventClock, id string, status int64, mime string) *network.EventResponseReceived {
	return &network.EventResponseReceived{
		RequestID: network.RequestID(id),
		Timestamp: c.monoTime(),
		Response: &network.Response{
			Status:     status,
			StatusText: "OK",
			MimeType:   mime,
			Protocol:   "h2",
			Headers: network.Headers{
				"Content-Type": mime,
				"Set-Cookie":   "a=1; Path=/\nb=2; HttpOnly",
			},
			EncodedDataLength: 512,
			RemoteIPAddress:   "93.184.216.34",
		},
	}
}

func TestHarvester_BuildsHAR(t *testing.T) {
	h := NewHarvester(zaptest.NewLogger(t), nil, false, time.Second, "test")
	defer h.Stop(context.Background())
	c := newEventClock()

	h.handleEvent(requestSent(c, "doc", "https://example.com/?b=2&a=1", network.ResourceTypeDocument))
	c.advance(40 * time.Millisecond)
	h.handleEvent(responseReceived(c, "doc", 200, "text/html"))
	h.handleEvent(&network.EventLoadingFinished{RequestID: "doc"})

	c.advance(10 * time.Millisecond)
	h.handleEvent(requestSent(c, "img", "https://example.com/missing.png", network.ResourceTypeImage))
	h.handleEvent(&network.EventLoadingFailed{RequestID: "img", ErrorText: "net::ERR_FAILED"})

	c.advance(50 * time.Millisecond)
	h.handleEvent(&page.EventLifecycleEvent{FrameID: "main", Name: "DOMContentLoaded", Timestamp: c.monoTime()})
	c.advance(50 * time.Millisecond)
	h.handleEvent(&page.EventLifecycleEvent{FrameID: "main", Name: "load", Timestamp: c.monoTime()})

	har := h.HAR()
	require.NotNil(t, har)
	assert.Equal(t, "1.2", har.Log.Version)
	assert.Equal(t, "test", har.Log.Creator.Version)

	require.Len(t, har.Log.Pages, 1)
	pg := har.Log.Pages[0]
	assert.Equal(t, "main", pg.ID)
	assert.InDelta(t, 100, pg.PageTimings.OnContentLoad, 0.001)
	assert.InDelta(t, 150, pg.PageTimings.OnLoad, 0.001)

	require.Len(t, har.Log.Entries, 2)
	doc := har.Log.Entries[0]
	assert.Equal(t, "main", doc.Pageref)
	assert.Equal(t, "https://example.com/?b=2&a=1", doc.Request.URL)
	assert.Equal(t, "GET", doc.Request.Method)
	require.Len(t, doc.Request.QueryString, 2)
	assert.Equal(t, "a", doc.Request.QueryString[0].Name, "query string is sorted")
	require.Len(t, doc.Request.Cookies, 2)
	assert.Equal(t, "session", doc.Request.Cookies[0].Name)
	assert.Equal(t, 200, doc.Response.Status)
	assert.Equal(t, "h2", doc.Response.HTTPVersion)
	assert.Equal(t, int64(512), doc.Response.BodySize)
	require.Len(t, doc.Response.Cookies, 2)
	assert.Equal(t, "b", doc.Response.Cookies[1].Name)
	assert.Equal(t, "2", doc.Response.Cookies[1].Value)
	assert.Equal(t, "93.184.216.34", doc.ServerIPAddress)
	assert.InDelta(t, 40, doc.Time, 0.001)

	failed := har.Log.Entries[1]
	assert.Equal(t, "net::ERR_FAILED", failed.Error)
	assert.Equal(t, 0, failed.Response.Status)
	assert.Equal(t, float64(-1), failed.Time)
}

func TestHarvester_RedirectKeepsOneEntry(t *testing.T) {
	h := NewHarvester(zaptest.NewLogger(t), nil, false, 20*time.Millisecond, "test")
	defer h.Stop(context.Background())
	c := newEventClock()

	h.handleEvent(requestSent(c, "r", "http://example.com/", network.ResourceTypeDocument))
	redirect := requestSent(c, "r", "https://example.com/", network.ResourceTypeDocument)
	redirect.RedirectResponse = &network.Response{Status: 301}
	h.handleEvent(redirect)
	h.handleEvent(responseReceived(c, "r", 200, "text/html"))
	h.handleEvent(&network.EventLoadingFinished{RequestID: "r"})

	har := h.HAR()
	require.Len(t, har.Log.Entries, 1)
	assert.Equal(t, "https://example.com/", har.Log.Entries[0].Request.URL)

	started, finished := h.idle.counts()
	assert.Equal(t, 2, started, "each redirect leg counts as a request")
	assert.Equal(t, 2, finished)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, h.WaitNetworkIdle(ctx))
}

func TestHarvester_DuplicateFinishCountsOnce(t *testing.T) {
	h := NewHarvester(zaptest.NewLogger(t), nil, false, time.Hour, "test")
	defer h.Stop(context.Background())
	c := newEventClock()

	h.handleEvent(requestSent(c, "x", "https://example.com/x", network.ResourceTypeXHR))
	h.handleEvent(&network.EventLoadingFinished{RequestID: "x"})
	h.handleEvent(&network.EventLoadingFailed{RequestID: "x", ErrorText: "late"})
	h.handleEvent(&network.EventLoadingFinished{RequestID: "unknown"})

	started, finished := h.idle.counts()
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, finished)
}

func TestConvertCDPTimings(t *testing.T) {
	assert.Equal(t, float64(-1), convertCDPTimings(nil).Wait)

	timings := convertCDPTimings(&network.ResourceTiming{
		DNSStart: 1, DNSEnd: 5,
		ConnectStart: 5, ConnectEnd: 20,
		SslStart: 10, SslEnd: 20,
		SendStart: 21, SendEnd: 22,
		ReceiveHeadersEnd: 72,
	})
	assert.Equal(t, float64(1), timings.Blocked)
	assert.Equal(t, float64(4), timings.DNS)
	assert.Equal(t, float64(15), timings.Connect)
	assert.Equal(t, float64(10), timings.SSL)
	assert.Equal(t, float64(1), timings.Send)
	assert.Equal(t, float64(50), timings.Wait)

	reused := convertCDPTimings(&network.ResourceTiming{
		DNSStart: -1, DNSEnd: -1,
		ConnectStart: -1, ConnectEnd: -1,
		SslStart: -1, SslEnd: -1,
		SendStart: 0.5, SendEnd: 1,
		ReceiveHeadersEnd: 11,
	})
	assert.Equal(t, float64(-1), reused.DNS)
	assert.Equal(t, float64(-1), reused.Connect)
	assert.Equal(t, float64(0.5), reused.Blocked)
}

func TestIsTextMime(t *testing.T) {
	for _, m := range []string{"text/html", "application/json", "application/javascript", "image/svg+xml", "Application/X-WWW-Form-Urlencoded"} {
		assert.True(t, isTextMime(m), m)
	}
	for _, m := range []string{"image/png", "application/octet-stream", ""} {
		assert.False(t, isTextMime(m), m)
	}
}
