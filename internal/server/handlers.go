package server

import (
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/webrender/webrender/api/schemas"
	"github.com/webrender/webrender/internal/render"
)

// healthCheckScript polls the rendered root page until its JSON mentions
// the version field.
const healthCheckScript = `while (true) {
  if (document.body && document.body.innerHTML.includes("version")) {
    return 42;
  }
  await new Promise((r) => setTimeout(r, 20));
}`

// Handlers serves the HTTP API.
type Handlers struct {
	log      *zap.Logger
	renderer render.Renderer
	selfURL  string
	version  string
}

// NewHandlers creates the API handlers. selfURL is the base URL the service
// answers on, used by the health check to render its own root.
func NewHandlers(logger *zap.Logger, renderer render.Renderer, selfURL, version string) *Handlers {
	return &Handlers{
		log:      logger.Named("handlers"),
		renderer: renderer,
		selfURL:  strings.TrimRight(selfURL, "/"),
		version:  version,
	}
}

// RegisterRoutes mounts every endpoint except /render on r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleRoot)
	r.Get("/empty", h.HandleEmpty)
	r.Get("/health-check", h.HandleHealthCheck)
}

// HandleRender renders the requested page. Malformed bodies get a 400 and
// never reach the renderer; failed renders get a 500 with the classified
// error.
func (h *Handlers) HandleRender(w http.ResponseWriter, r *http.Request) {
	var body schemas.RenderRequestBody
	if err := decodeJSONBody(w, r, &body); err != nil {
		h.badRequest(w, err)
		return
	}
	req, err := body.ToRequest()
	if err != nil {
		h.badRequest(w, err)
		return
	}

	out := h.renderer.Render(r.Context(), req)
	h.respondOutcome(w, out, req.URL)
}

// HandleRoot echoes the service version and the request headers.
func (h *Handlers) HandleRoot(w http.ResponseWriter, r *http.Request) {
	headers := make(map[string]string, len(r.Header)+1)
	keys := make([]string, 0, len(r.Header))
	for k := range r.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		headers[strings.ToLower(k)] = strings.Join(r.Header.Values(k), ", ")
	}
	if r.Host != "" {
		headers["host"] = r.Host
	}
	respondJSON(w, h.log, http.StatusOK, schemas.RootResponse{Version: h.version, Headers: headers})
}

// HandleEmpty serves the blank page rendered for requests without a URL.
func (h *Handlers) HandleEmpty(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
}

// HandleHealthCheck renders the service's own root page end to end.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	target := h.selfURL + "/"
	out := h.renderer.Render(r.Context(), schemas.RenderRequest{
		URL:  target,
		JS:   healthCheckScript,
		JSOn: schemas.JSOnDOMContentLoaded,
	})
	if !out.OK() {
		h.log.Warn("Health check render failed.", zap.String("error", out.Failure.Message))
	}
	h.respondOutcome(w, out, target)
}

func (h *Handlers) respondOutcome(w http.ResponseWriter, out schemas.RenderOutcome, requestedURL string) {
	status := http.StatusOK
	if !out.OK() {
		status = http.StatusInternalServerError
	}
	respondJSON(w, h.log, status, out.Response(requestedURL))
}

func (h *Handlers) badRequest(w http.ResponseWriter, err error) {
	respondJSON(w, h.log, http.StatusBadRequest, schemas.ErrorResponse{
		Error:     err.Error(),
		ErrorCode: schemas.ErrorCodeBadRequest,
	})
}
