package browser

import (
	"context"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/webrender/webrender/api/schemas"
)

const bodyFetchTimeout = 10 * time.Second

// requestState follows one request ID through its lifecycle. Redirects
// reuse the ID; only the final leg is kept.
type requestState struct {
	request       *network.EventRequestWillBeSent
	response      *network.EventResponseReceived
	body          []byte
	bodyFetching  bool
	failure       string
	finished      bool
	wallTime      time.Time
	monotonicTime cdp.MonotonicTime
}

// Harvester records a page's network traffic for the HAR trace and feeds
// the idle tracker that decides when the network went quiet.
type Harvester struct {
	logger        *zap.Logger
	captureBodies bool
	executor      ActionExecutor
	creator       string
	idle          *idleTracker

	mu            sync.Mutex
	requests      map[network.RequestID]*requestState
	order         []network.RequestID
	mainFrame     cdp.FrameID
	pageStart     time.Time
	onContentLoad float64
	onLoad        float64

	wg sync.WaitGroup
}

// NewHarvester creates a harvester. executor is only used to fetch response
// bodies and may be nil when captureBodies is false.
func NewHarvester(logger *zap.Logger, executor ActionExecutor, captureBodies bool, idleTimeout time.Duration, creator string) *Harvester {
	if captureBodies && executor == nil {
		panic("harvester needs an ActionExecutor to capture bodies")
	}
	return &Harvester{
		logger:        logger.Named("harvester"),
		captureBodies: captureBodies,
		executor:      executor,
		creator:       creator,
		idle:          newIdleTracker(idleTimeout),
		requests:      make(map[network.RequestID]*requestState),
		onContentLoad: -1,
		onLoad:        -1,
	}
}

// Listen attaches the harvester to the target behind ctx. Events stop
// arriving once ctx is done.
func (h *Harvester) Listen(ctx context.Context) {
	chromedp.ListenTarget(ctx, h.handleEvent)
}

func (h *Harvester) handleEvent(ev interface{}) {
	switch ev := ev.(type) {
	case *network.EventRequestWillBeSent:
		h.handleRequestWillBeSent(ev)
	case *network.EventResponseReceived:
		h.handleResponseReceived(ev)
	case *network.EventLoadingFinished:
		h.handleLoadingFinished(ev)
	case *network.EventLoadingFailed:
		h.handleLoadingFailed(ev)
	case *page.EventLifecycleEvent:
		h.handleLifecycleEvent(ev)
	}
}

// WaitNetworkIdle blocks until no request has been in flight for the idle timeout.
func (h *Harvester) WaitNetworkIdle(ctx context.Context) error {
	return h.idle.wait(ctx)
}

// Stop waits for outstanding body fetches, bounded by ctx, and releases the
// idle timer.
func (h *Harvester) Stop(ctx context.Context) {
	h.idle.stop()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		h.logger.Debug("Stopped before all response bodies were fetched.", zap.Error(ctx.Err()))
	}
}

// -- Event Handlers --

func (h *Harvester) handleRequestWillBeSent(ev *network.EventRequestWillBeSent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	req, exists := h.requests[ev.RequestID]
	if exists && ev.RedirectResponse != nil {
		// The previous leg ended with the redirect; the new one starts now.
		h.idle.requestFinished()
	}
	if !exists {
		req = &requestState{}
		h.requests[ev.RequestID] = req
		h.order = append(h.order, ev.RequestID)
	}
	h.idle.requestStarted()

	req.request = ev
	if ev.WallTime != nil {
		req.wallTime = ev.WallTime.Time()
	}
	if ev.Timestamp != nil {
		req.monotonicTime = *ev.Timestamp
	}
	if h.mainFrame == "" && ev.Type == network.ResourceTypeDocument {
		h.mainFrame = ev.FrameID
		h.pageStart = req.wallTime
	}
}

func (h *Harvester) handleResponseReceived(ev *network.EventResponseReceived) {
	h.mu.Lock()
	defer h.mu.Unlock()

	req, ok := h.requests[ev.RequestID]
	if !ok {
		return
	}
	req.response = ev
	// Fetching on headers rather than on finish keeps the browser from
	// dropping the buffer first.
	if h.captureBodies && isTextMime(ev.Response.MimeType) && !req.bodyFetching {
		req.bodyFetching = true
		h.fetchBody(ev.RequestID)
	}
}

func (h *Harvester) handleLoadingFinished(ev *network.EventLoadingFinished) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if req, ok := h.requests[ev.RequestID]; ok && !req.finished {
		req.finished = true
		h.idle.requestFinished()
	}
}

func (h *Harvester) handleLoadingFailed(ev *network.EventLoadingFailed) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if req, ok := h.requests[ev.RequestID]; ok && !req.finished {
		req.finished = true
		req.failure = ev.ErrorText
		h.idle.requestFinished()
	}
}

func (h *Harvester) handleLifecycleEvent(ev *page.EventLifecycleEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.mainFrame != "" && ev.FrameID != h.mainFrame {
		return
	}
	if ev.Timestamp == nil || h.pageStart.IsZero() {
		return
	}
	// Lifecycle timestamps are monotonic; anchor them on the document request.
	doc := h.documentRequestLocked()
	if doc == nil || doc.monotonicTime.Time().IsZero() {
		return
	}
	delta := ev.Timestamp.Time().Sub(doc.monotonicTime.Time()).Seconds() * 1000
	switch ev.Name {
	case "DOMContentLoaded":
		h.onContentLoad = delta
	case "load":
		h.onLoad = delta
	}
}

func (h *Harvester) documentRequestLocked() *requestState {
	for _, id := range h.order {
		req := h.requests[id]
		if req.request != nil && req.request.FrameID == h.mainFrame && req.request.Type == network.ResourceTypeDocument {
			return req
		}
	}
	return nil
}

// -- Body Fetching --

func (h *Harvester) fetchBody(reqID network.RequestID) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), bodyFetchTimeout)
		defer cancel()

		var body []byte
		err := h.executor.RunBackgroundActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
			var err error
			body, err = network.GetResponseBody(reqID).Do(c)
			return err
		}))

		h.mu.Lock()
		defer h.mu.Unlock()
		req, ok := h.requests[reqID]
		if !ok {
			return
		}
		req.bodyFetching = false
		if err != nil {
			h.logger.Debug("Failed to fetch response body.", zap.String("request_id", string(reqID)), zap.Error(err))
			return
		}
		req.body = body
	}()
}

// -- HAR Generation --

// HAR builds the archive from everything recorded so far.
func (h *Harvester) HAR() *schemas.HAR {
	h.mu.Lock()
	defer h.mu.Unlock()

	har := schemas.NewHAR(h.creator)
	pageID := string(h.mainFrame)
	if pageID != "" {
		har.Log.Pages = append(har.Log.Pages, schemas.Page{
			StartedDateTime: h.pageStart,
			ID:              pageID,
			PageTimings: schemas.PageTimings{
				OnContentLoad: h.onContentLoad,
				OnLoad:        h.onLoad,
			},
		})
	}

	for _, id := range h.order {
		req := h.requests[id]
		if req.request == nil {
			continue
		}
		entry := schemas.Entry{
			Pageref:         pageID,
			StartedDateTime: req.wallTime,
			Time:            -1,
			Request:         buildHARRequest(req.request),
			Response:        schemas.Response{Status: 0, Cookies: []schemas.HARCookie{}, Headers: []schemas.NVPair{}},
			Timings:         schemas.Timings{Blocked: -1, DNS: -1, Connect: -1, SSL: -1, Send: -1, Wait: -1, Receive: -1},
			Error:           req.failure,
		}
		if req.response != nil {
			entry.Response = buildHARResponse(req.response.Response, req.body)
			entry.Timings = convertCDPTimings(req.response.Response.Timing)
			entry.ServerIPAddress = req.response.Response.RemoteIPAddress
			if !req.monotonicTime.Time().IsZero() && req.response.Timestamp != nil {
				entry.Time = req.response.Timestamp.Time().Sub(req.monotonicTime.Time()).Seconds() * 1000
			}
		}
		har.Log.Entries = append(har.Log.Entries, entry)
	}

	sort.SliceStable(har.Log.Entries, func(i, j int) bool {
		return har.Log.Entries[i].StartedDateTime.Before(har.Log.Entries[j].StartedDateTime)
	})
	return har
}

func buildHARRequest(ev *network.EventRequestWillBeSent) schemas.Request {
	r := ev.Request
	qs := make([]schemas.NVPair, 0)
	if u, err := url.Parse(r.URL); err == nil {
		for k, vs := range u.Query() {
			for _, v := range vs {
				qs = append(qs, schemas.NVPair{Name: k, Value: v})
			}
		}
		sort.Slice(qs, func(i, j int) bool { return qs[i].Name < qs[j].Name })
	}

	harReq := schemas.Request{
		Method:      r.Method,
		URL:         r.URL + r.URLFragment,
		HTTPVersion: "HTTP/1.1",
		Cookies:     parseCookieHeader(getHeader(r.Headers, "Cookie")),
		Headers:     convertHeaders(r.Headers),
		QueryString: qs,
		HeadersSize: calculateHeaderSize(r.Headers),
		BodySize:    0,
	}
	if r.HasPostData {
		var text strings.Builder
		for _, entry := range r.PostDataEntries {
			decoded, err := base64.StdEncoding.DecodeString(entry.Bytes)
			if err != nil {
				text.WriteString(entry.Bytes)
				continue
			}
			text.Write(decoded)
		}
		harReq.BodySize = int64(text.Len())
		harReq.PostData = &schemas.PostData{
			MimeType: getHeader(r.Headers, "Content-Type"),
			Text:     text.String(),
			Params:   []schemas.NVPair{},
		}
	}
	return harReq
}

func buildHARResponse(resp *network.Response, body []byte) schemas.Response {
	content := schemas.Content{
		Size:     int64(len(body)),
		MimeType: resp.MimeType,
	}
	if len(body) > 0 {
		content.Text = string(body)
	}
	httpVersion := resp.Protocol
	if httpVersion == "" {
		httpVersion = "HTTP/1.1"
	}
	return schemas.Response{
		Status:      int(resp.Status),
		StatusText:  resp.StatusText,
		HTTPVersion: httpVersion,
		Cookies:     parseSetCookieHeader(getHeader(resp.Headers, "Set-Cookie")),
		Headers:     convertHeaders(resp.Headers),
		Content:     content,
		RedirectURL: getHeader(resp.Headers, "Location"),
		HeadersSize: calculateHeaderSize(resp.Headers),
		BodySize:    int64(resp.EncodedDataLength),
	}
}

// -- Helpers --

// getHeader looks a header up case-insensitively.
func getHeader(headers network.Headers, key string) string {
	for name, v := range headers {
		if strings.EqualFold(name, key) {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// convertCDPTimings maps CDP resource timing (ms offsets from requestTime)
// onto HAR phase durations. Phases that did not happen are -1.
func convertCDPTimings(t *network.ResourceTiming) schemas.Timings {
	if t == nil {
		return schemas.Timings{Blocked: -1, DNS: -1, Connect: -1, SSL: -1, Send: -1, Wait: -1, Receive: -1}
	}
	span := func(start, end float64) float64 {
		if start < 0 || end < start {
			return -1
		}
		return end - start
	}

	blocked := -1.0
	for _, first := range []float64{t.DNSStart, t.ConnectStart, t.SendStart} {
		if first >= 0 {
			blocked = first
			break
		}
	}

	return schemas.Timings{
		Blocked: blocked,
		DNS:     span(t.DNSStart, t.DNSEnd),
		Connect: span(t.ConnectStart, t.ConnectEnd),
		SSL:     span(t.SslStart, t.SslEnd),
		Send:    span(t.SendStart, t.SendEnd),
		Wait:    span(t.SendEnd, t.ReceiveHeadersEnd),
		Receive: 0,
	}
}

func isTextMime(mimeType string) bool {
	m := strings.ToLower(mimeType)
	return strings.HasPrefix(m, "text/") ||
		strings.Contains(m, "javascript") ||
		strings.Contains(m, "json") ||
		strings.Contains(m, "xml") ||
		strings.Contains(m, "x-www-form-urlencoded")
}

func calculateHeaderSize(headers network.Headers) int64 {
	var size int64
	for k, v := range headers {
		if val, ok := v.(string); ok {
			// name + ": " + value + "\r\n"
			size += int64(len(k) + len(val) + 4)
		}
	}
	return size
}

func convertHeaders(headers network.Headers) []schemas.NVPair {
	pairs := make([]schemas.NVPair, 0, len(headers))
	for k, v := range headers {
		if val, ok := v.(string); ok {
			pairs = append(pairs, schemas.NVPair{Name: k, Value: val})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Name < pairs[j].Name })
	return pairs
}

func parseCookieHeader(header string) []schemas.HARCookie {
	cookies := make([]schemas.HARCookie, 0)
	if header == "" {
		return cookies
	}
	for _, part := range strings.Split(header, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && name != "" {
			cookies = append(cookies, schemas.HARCookie{Name: name, Value: value})
		}
	}
	return cookies
}

// parseSetCookieHeader reads the newline separated Set-Cookie values CDP
// reports, keeping each cookie's name and value and skipping attributes.
func parseSetCookieHeader(header string) []schemas.HARCookie {
	cookies := make([]schemas.HARCookie, 0)
	for _, line := range strings.Split(header, "\n") {
		pair, _, _ := strings.Cut(line, ";")
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && name != "" {
			cookies = append(cookies, schemas.HARCookie{Name: name, Value: value})
		}
	}
	return cookies
}
