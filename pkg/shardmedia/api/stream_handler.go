// Package api exposes the retrieval gateway over HTTP.
package api

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/tendant/shardmedia/pkg/shardmedia"
	"github.com/tendant/shardmedia/pkg/shardmedia/gateway"
)

// StreamHandler handles retrieval requests
type StreamHandler struct {
	gateway *gateway.Gateway
	repo    shardmedia.Repository
	logger  *slog.Logger
}

// ObjectResponse summarizes a stored object. Key material is never exposed.
type ObjectResponse struct {
	Name       string    `json:"name"`
	AccountID  string    `json:"account_id"`
	CreatedAt  time.Time `json:"created_at"`
	Kind       string    `json:"kind"`
	ChunkOf    string    `json:"chunk_of,omitempty"`
	ChunkIndex *int      `json:"chunk_index,omitempty"`
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(g *gateway.Gateway, repo shardmedia.Repository, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{gateway: g, repo: repo, logger: logger}
}

// Routes returns the retrieval routes
func (h *StreamHandler) Routes() chi.Router {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes adds the retrieval routes to r.
func (h *StreamHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(RequestIDMiddleware)
		r.Get("/stream", h.Stream)
		r.Get("/objects", h.ListObjects)
		r.Get("/objects/days", h.CountObjectsByDay)
		r.Get("/objects/{name}", h.GetObject)
		r.Get("/thumbnails/{name}", h.GetThumbnail)
	})
}

// Stream serves GET /stream?filename=&chunkIndex=&placeholder=
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := gateway.Request{Name: q.Get("filename")}

	if raw := q.Get("chunkIndex"); raw != "" {
		idx, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, "invalid chunkIndex")
			return
		}
		req.ChunkIndex = &idx
	}
	// any non-empty placeholder value asks for the preview
	req.Preview = q.Get("placeholder") != ""

	stream, err := h.gateway.Open(r.Context(), req)
	if err != nil {
		h.writeOpenError(w, r, req.Name, err)
		return
	}
	defer stream.Body.Close()

	// The status line is committed only once the first byte is readable.
	body := bufio.NewReader(stream.Body)
	if _, err := body.Peek(1); err != nil && !errors.Is(err, io.EOF) {
		h.writeOpenError(w, r, stream.Name, err)
		return
	}

	w.Header().Set("Content-Type", stream.ContentType)
	if stream.FastPath {
		w.Header().Set("X-Fast-Path", "true")
	}
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, body)
	if err != nil {
		// headers are already sent; the client sees a truncated body
		h.logger.ErrorContext(r.Context(), "stream interrupted",
			"request_id", RequestID(r.Context()), "object", stream.Name, "bytes", n, "err", err)
		return
	}
	h.logger.InfoContext(r.Context(), "object streamed",
		"request_id", RequestID(r.Context()), "object", stream.Name, "bytes", n, "fast_path", stream.FastPath)
}

// GetObject serves GET /objects/{name}
func (h *StreamHandler) GetObject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	record, err := h.repo.GetObject(r.Context(), name)
	if err != nil {
		if errors.Is(err, shardmedia.ErrObjectNotFound) {
			h.writeError(w, r, http.StatusNotFound, "object not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "failed to get object", "object", name, "err", err)
		h.writeError(w, r, http.StatusInternalServerError, "failed to get object")
		return
	}

	render.JSON(w, r, newObjectResponse(record))
}

func newObjectResponse(record *shardmedia.ObjectRecord) ObjectResponse {
	resp := ObjectResponse{
		Name:      record.Name,
		AccountID: record.AccountID,
		CreatedAt: record.CreatedAt,
		Kind:      kindOf(record.Name),
	}
	if base, idx, ok := shardmedia.ParseChunkName(record.Name); ok {
		resp.ChunkOf = base
		resp.ChunkIndex = &idx
	}
	return resp
}

// GetThumbnail serves GET /thumbnails/{name}
func (h *StreamHandler) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	stream, err := h.gateway.OpenThumbnail(chi.URLParam(r, "name"))
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrInvalidRequest):
			h.writeError(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, shardmedia.ErrObjectNotFound):
			h.writeError(w, r, http.StatusNotFound, "thumbnail not found")
		default:
			h.writeError(w, r, http.StatusInternalServerError, "failed to open thumbnail")
		}
		return
	}
	defer stream.Body.Close()

	w.Header().Set("Content-Type", stream.ContentType)
	io.Copy(w, stream.Body)
}

func (h *StreamHandler) writeOpenError(w http.ResponseWriter, r *http.Request, name string, err error) {
	switch {
	case errors.Is(err, gateway.ErrInvalidRequest):
		h.writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, shardmedia.ErrObjectNotFound):
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, shardmedia.ErrFetchFailed):
		h.logger.ErrorContext(r.Context(), "remote fetch failed",
			"request_id", RequestID(r.Context()), "object", name, "err", err)
		h.writeError(w, r, http.StatusBadGateway, "remote fetch failed")
	default:
		h.logger.ErrorContext(r.Context(), "failed to open object",
			"request_id", RequestID(r.Context()), "object", name, "err", err)
		h.writeError(w, r, http.StatusInternalServerError, "failed to open object")
	}
}

func (h *StreamHandler) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: msg, RequestID: RequestID(r.Context())})
}

func kindOf(name string) string {
	switch {
	case shardmedia.IsImage(name):
		return "image"
	case shardmedia.IsVideo(name):
		return "video"
	}
	return "other"
}
