package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"image/jpeg"
	"image/png"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cjeanneret/photobooth/internal/debug"
	"github.com/cjeanneret/photobooth/internal/export"
	"github.com/cjeanneret/photobooth/internal/hw/camera"
	"github.com/cjeanneret/photobooth/internal/logic/capture"
	"github.com/cjeanneret/photobooth/internal/logic/filter"
	"github.com/cjeanneret/photobooth/internal/logic/gallery"
)

const (
	maxBodyBytes     = 4 << 10
	previewQuality   = 80
	defaultThumbSize = 160
	maxThumbSize     = 1024
)

// UIConfig holds the values the page needs to render its controls.
type UIConfig struct {
	Filters        []filter.Effect `json:"filters"`
	DefaultFilter  filter.ID       `json:"default_filter"`
	CountdownTicks int             `json:"countdown_ticks"`
	TickMs         int64           `json:"tick_ms"`
	ExportMode     export.Mode     `json:"export_mode"`
	GalleryOrder   gallery.Order   `json:"gallery_order"`
}

// NewUIConfig builds the UI defaults for the given settings.
func NewUIConfig(def filter.ID, tick time.Duration, mode export.Mode, order gallery.Order) UIConfig {
	effects := make([]filter.Effect, 0, len(filter.All()))
	for _, id := range filter.All() {
		effects = append(effects, filter.Preview(id))
	}
	return UIConfig{
		Filters:        effects,
		DefaultFilter:  def,
		CountdownTicks: capture.CountdownTicks,
		TickMs:         tick.Milliseconds(),
		ExportMode:     mode,
		GalleryOrder:   order,
	}
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Booth       *capture.Controller
	Broadcaster *StatusBroadcaster
	UI          UIConfig
	// Messages overrides the stream failure texts shown to users.
	Messages camera.Messages
	// Exporter saves photos on the server side (POST /photos/export).
	// Nil disables the route.
	Exporter export.Exporter
	staticFS fs.FS
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(booth *capture.Controller, broadcaster *StatusBroadcaster, ui UIConfig, staticFS fs.FS) *Handlers {
	return &Handlers{
		Booth:       booth,
		Broadcaster: broadcaster,
		UI:          ui,
		staticFS:    staticFS,
	}
}

// apiError is the JSON body of every failed API call.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// stateResponse is a controller snapshot plus the user-facing failure text.
type stateResponse struct {
	capture.Snapshot
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, apiError{Error: code, Message: msg})
}

// writeBoothError maps controller errors to HTTP statuses.
func (h *Handlers) writeBoothError(w http.ResponseWriter, err error) {
	var se *camera.StreamError
	var ce *capture.CaptureError
	switch {
	case errors.As(err, &se):
		writeError(w, http.StatusServiceUnavailable, se.Kind.String(), h.Messages.Describe(se.Kind))
	case errors.As(err, &ce):
		writeError(w, http.StatusInternalServerError, "capture_failed", err.Error())
	case errors.Is(err, capture.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "stopped", "The booth is shutting down.")
	case errors.Is(err, capture.ErrNotLive):
		writeError(w, http.StatusConflict, "not_live", "Start the camera before taking a photo.")
	case errors.Is(err, capture.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, capture.ErrUnknownFilter):
		writeError(w, http.StatusBadRequest, "unknown_filter", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func (h *Handlers) state() stateResponse {
	snap := h.Booth.Snapshot()
	resp := stateResponse{Snapshot: snap}
	if snap.ErrorKind != "" {
		if k, ok := camera.ParseKind(snap.ErrorKind); ok {
			resp.Message = h.Messages.Describe(k)
		}
	}
	return resp
}

// HandleConfig returns the UI defaults as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.UI)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleState handles GET /state.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state())
}

// HandleStart handles POST /session/start.
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	if err := h.Booth.StartSession(r.Context()); err != nil {
		h.writeBoothError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.state())
}

// HandleStop handles POST /session/stop.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if err := h.Booth.StopSession(); err != nil {
		h.writeBoothError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.state())
}

// HandleFacing handles POST /session/facing.
func (h *Handlers) HandleFacing(w http.ResponseWriter, r *http.Request) {
	if err := h.Booth.SwitchFacing(r.Context()); err != nil {
		h.writeBoothError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.state())
}

type filterRequest struct {
	Filter string `json:"filter"`
}

// HandleFilter handles PUT /filter with {"filter":"sepia"}.
func (h *Handlers) HandleFilter(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req filterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON")
		return
	}
	if err := h.Booth.SetFilterName(req.Filter); err != nil {
		h.writeBoothError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.state())
}

// HandleCapture handles POST /capture. The countdown runs in the background;
// progress is reported on /events.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	if err := h.Booth.RequestCapture(); err != nil {
		h.writeBoothError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":    "countdown",
		"remaining": capture.CountdownTicks,
	})
}

// HandlePreview handles GET /preview.jpg: the current unfiltered frame.
// The page applies the CSS preview effect; ?filtered=1 renders it server side.
func (h *Handlers) HandlePreview(w http.ResponseWriter, r *http.Request) {
	frame, err := h.Booth.LatestFrame()
	if err != nil {
		h.writeBoothError(w, err)
		return
	}
	if r.URL.Query().Get("filtered") == "1" {
		filter.ApplyImage(frame, h.Booth.Filter())
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: previewQuality}); err != nil {
		writeError(w, http.StatusInternalServerError, "encode", err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

// HandlePhotos handles GET /photos: metadata in display order.
func (h *Handlers) HandlePhotos(w http.ResponseWriter, r *http.Request) {
	photos := h.Booth.Gallery().List()
	infos := make([]gallery.Info, 0, len(photos))
	for _, p := range photos {
		infos = append(infos, p.Info())
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *Handlers) photo(w http.ResponseWriter, r *http.Request) (*gallery.Photo, bool) {
	id := chi.URLParam(r, "id")
	p, ok := h.Booth.Gallery().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no photo "+id)
		return nil, false
	}
	return p, true
}

// HandlePhoto handles GET /photos/{id}: the PNG as a download.
func (h *Handlers) HandlePhoto(w http.ResponseWriter, r *http.Request) {
	p, ok := h.photo(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if r.URL.Query().Get("inline") != "1" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName(p)+`"`)
	}
	w.Header().Set("Content-Length", strconv.Itoa(p.Size()))
	w.Write(p.PNG())
}

// HandleThumb handles GET /photos/{id}/thumb?w=160.
func (h *Handlers) HandleThumb(w http.ResponseWriter, r *http.Request) {
	p, ok := h.photo(w, r)
	if !ok {
		return
	}
	width := defaultThumbSize
	if s := r.URL.Query().Get("w"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxThumbSize {
			writeError(w, http.StatusBadRequest, "invalid_width", "w must be between 1 and "+strconv.Itoa(maxThumbSize))
			return
		}
		width = n
	}
	img, err := png.Decode(bytes.NewReader(p.PNG()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "decode", err.Error())
		return
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, Thumbnail(img, width)); err != nil {
		writeError(w, http.StatusInternalServerError, "encode", err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "max-age=3600, immutable")
	w.Write(buf.Bytes())
}

// HandleDelete handles DELETE /photos/{id}.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.Booth.Gallery().Remove(id) {
		writeError(w, http.StatusNotFound, "not_found", "no photo "+id)
		return
	}
	debug.Live("Photo %s deleted", id)
	w.WriteHeader(http.StatusNoContent)
}

type exportFile struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// HandleExport handles GET /photos/export. In archive mode it streams one zip;
// in sequence mode it lists one download per photo for the page to fetch.
func (h *Handlers) HandleExport(w http.ResponseWriter, r *http.Request) {
	photos := h.Booth.Gallery().List()
	if len(photos) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	mode := h.UI.ExportMode
	if q := r.URL.Query().Get("mode"); q != "" {
		m, err := export.ParseMode(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_mode", err.Error())
			return
		}
		mode = m
	}

	if mode == export.ModeArchive {
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", `attachment; filename="`+export.ArchiveName(time.Now())+`"`)
		if err := export.WriteArchive(w, photos); err != nil {
			// headers are gone, the client sees a truncated archive
			debug.Error(err)
		}
		return
	}

	files := make([]exportFile, 0, len(photos))
	for _, p := range photos {
		files = append(files, exportFile{Name: export.FileName(p), URL: "/photos/" + p.ID()})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"mode": mode, "files": files})
}

// HandleSave handles POST /photos/export: writes the gallery with the
// server-side exporter and returns the created paths.
func (h *Handlers) HandleSave(w http.ResponseWriter, r *http.Request) {
	if h.Exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "export_disabled", "server-side export not configured")
		return
	}
	paths, err := h.Exporter.ExportAll(r.Context(), h.Booth.Gallery().List())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export_failed", err.Error())
		return
	}
	if paths == nil {
		paths = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"paths": paths})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
