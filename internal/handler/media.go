package handler

import (
	"context"     // request-scoped timeouts for store calls
	"crypto/rand" // entropy for generated ids
	"errors"
	"io"
	"net/http" // status codes
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"  // Echo framework
	"github.com/oklog/ulid/v2"     // sortable media ids
	"github.com/redis/go-redis/v9" // thumbnail cache eviction
	"go.uber.org/zap"              // structured logging

	"github.com/iliyamo/memory-gallery/internal/catalog"
	"github.com/iliyamo/memory-gallery/internal/config"
	"github.com/iliyamo/memory-gallery/internal/middleware"
	"github.com/iliyamo/memory-gallery/internal/model"
	q "github.com/iliyamo/memory-gallery/internal/queue"
	"github.com/iliyamo/memory-gallery/internal/repository"
)

// MediaStore persists media entries.
type MediaStore interface {
	List(ctx context.Context) ([]model.MediaEntry, error)
	Get(ctx context.Context, id string) (model.MediaEntry, error)
	Insert(ctx context.Context, e model.MediaEntry) (model.MediaEntry, error)
	UpdateLiked(ctx context.Context, id string, liked bool) error
	UpdateCaption(ctx context.Context, id, caption string) error
	Delete(ctx context.Context, id string) error
}

// MediaEvents publishes catalog changes.
type MediaEvents interface {
	PublishMediaChanged(ctx context.Context, ev q.MediaChangedEvent) error
}

// MediaHandler serves the media catalog and its files.
type MediaHandler struct {
	Store  MediaStore
	Events MediaEvents
	Cfg    config.Config
	Cache  config.CacheConfig
	Redis  *redis.Client // nil disables thumbnail cache eviction
	Log    *zap.Logger

	mu      sync.Mutex // guards entropy
	entropy io.Reader
	now     func() time.Time
}

func NewMediaHandler(store MediaStore, events MediaEvents, cfg config.Config, cache config.CacheConfig, rdb *redis.Client, log *zap.Logger) *MediaHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &MediaHandler{
		Store:   store,
		Events:  events,
		Cfg:     cfg,
		Cache:   cache,
		Redis:   rdb,
		Log:     log,
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

func (h *MediaHandler) newID(t time.Time) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return catalog.NewID(t, h.entropy)
}

// publish sends a change event.  Delivery is best effort; the write it
// describes has already been committed.
func (h *MediaHandler) publish(ctx context.Context, action string, e model.MediaEntry, actor string) {
	if h.Events == nil {
		return
	}
	if err := h.Events.PublishMediaChanged(context.WithoutCancel(ctx), q.NewMediaChanged(action, e.ID, e.Title, actor)); err != nil {
		h.Log.Warn("media event not published", zap.String("action", action), zap.String("id", e.ID), zap.Error(err))
	}
}

func (h *MediaHandler) storeErr(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return errJSON(c, http.StatusNotFound, "media not found")
	case errors.Is(err, repository.ErrConflict):
		return errJSON(c, http.StatusConflict, "media id already exists")
	}
	h.Log.Error("media store failed", zap.String("op", op), zap.Error(err))
	return errJSON(c, http.StatusInternalServerError, op+" failed")
}

// List returns the catalog newest first, filtered by ?q= when present.
func (h *MediaHandler) List(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()

	items, err := h.Store.List(ctx)
	if err != nil {
		return h.storeErr(c, "list", err)
	}
	catalog.SortNewestFirst(items) // newest first, ties by id
	if query := strings.TrimSpace(c.QueryParam("q")); query != "" {
		items = catalog.Search(items, query)
	}
	return c.JSON(http.StatusOK, items)
}

// Get returns one entry.
func (h *MediaHandler) Get(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()

	e, err := h.Store.Get(ctx, c.Param("id"))
	if err != nil {
		return h.storeErr(c, "get", err)
	}
	return c.JSON(http.StatusOK, e)
}

// Create inserts an entry built by the client.  The client usually
// assigns the id; a missing one is generated here.  A missing uploader
// defaults to the caller.
func (h *MediaHandler) Create(c echo.Context) error {
	// Bind the JSON body straight into the entry; the json tags are the
	// stored column names.
	var e model.MediaEntry
	if err := c.Bind(&e); err != nil {
		return badRequest(c, "invalid body")
	}
	// Validate the required fields and the enumerations.
	e.Title = strings.TrimSpace(e.Title)
	switch {
	case e.Title == "":
		return badRequest(c, "title required")
	case e.SourceURL == "":
		return badRequest(c, "url required")
	case e.Kind != "" && e.Kind != model.KindImage && e.Kind != model.KindVideo:
		return badRequest(c, "type must be image or video")
	}
	if e.Aspect == "" {
		e.Aspect = model.AspectSquare
	} else if !e.Aspect.Valid() {
		return badRequest(c, "unknown aspect_ratio")
	}

	// Fill in what the client left out.
	now := h.now().UTC()
	if e.ID == "" {
		e.ID = h.newID(now)
	} else if _, err := ulid.ParseStrict(e.ID); err != nil {
		return badRequest(c, "id must be a ULID")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.CreatedDate == "" {
		e.CreatedDate = catalog.FormatDate(e.CreatedAt)
	}
	if strings.TrimSpace(e.Description) == "" {
		e.Description = catalog.DefaultDescription
	}
	if e.ThumbnailURL == "" {
		e.ThumbnailURL = e.SourceURL
	}
	if strings.TrimSpace(e.UploadedBy) == "" {
		e.UploadedBy = middleware.Identifier(c)
	}

	ctx, cancel := withTimeout(c)
	defer cancel()

	// A duplicate id maps to 409 in storeErr.
	saved, err := h.Store.Insert(ctx, e)
	if err != nil {
		return h.storeErr(c, "insert", err)
	}
	// Tell the audit consumer; failures are only logged.
	h.publish(ctx, q.MediaCreated, saved, middleware.Identifier(c))
	return c.JSON(http.StatusCreated, saved)
}

type likeReq struct {
	Liked *bool `json:"liked"`
}

// SetLiked stores the like flag.
func (h *MediaHandler) SetLiked(c echo.Context) error {
	var req likeReq
	if err := c.Bind(&req); err != nil || req.Liked == nil {
		return badRequest(c, "liked required")
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	id := c.Param("id")
	if err := h.Store.UpdateLiked(ctx, id, *req.Liked); err != nil {
		return h.storeErr(c, "like", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"id": id, "liked": *req.Liked})
}

type captionReq struct {
	Caption string `json:"caption"`
}

// SetCaption stores a reflection caption.
func (h *MediaHandler) SetCaption(c echo.Context) error {
	var req captionReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Caption) == "" {
		return badRequest(c, "caption required")
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	id := c.Param("id")
	caption := strings.TrimSpace(req.Caption)
	if err := h.Store.UpdateCaption(ctx, id, caption); err != nil {
		return h.storeErr(c, "caption", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"id": id, "poetic_caption": caption})
}

// Delete removes an entry and its files.  It requires ?confirm=true so a
// stray request cannot delete anything.
func (h *MediaHandler) Delete(c echo.Context) error {
	if c.QueryParam("confirm") != "true" {
		return badRequest(c, "confirmation required")
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	// Load the entry first so the event can carry its title.
	id := c.Param("id")
	e, err := h.Store.Get(ctx, id)
	if err != nil {
		return h.storeErr(c, "delete", err)
	}
	// Remove the row.
	if err := h.Store.Delete(ctx, id); err != nil {
		return h.storeErr(c, "delete", err)
	}

	// Drop the stored files and the cached thumbnail.
	h.removeFiles(id)
	if err := middleware.EvictPath(ctx, h.Cache, h.Redis, thumbnailPath(id)); err != nil {
		h.Log.Warn("thumbnail cache eviction failed", zap.String("id", id), zap.Error(err))
	}
	h.publish(ctx, q.MediaDeleted, e, middleware.Identifier(c))
	return c.NoContent(http.StatusNoContent)
}

// Stats returns aggregate numbers for the admin dashboard.
func (h *MediaHandler) Stats(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()

	items, err := h.Store.List(ctx)
	if err != nil {
		return h.storeErr(c, "stats", err)
	}
	return c.JSON(http.StatusOK, catalog.ComputeStats(items))
}
