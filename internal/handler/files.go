package handler

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/iliyamo/memory-gallery/internal/catalog"
	"github.com/iliyamo/memory-gallery/internal/imaging"
	"github.com/iliyamo/memory-gallery/internal/middleware"
	"github.com/iliyamo/memory-gallery/internal/model"
	q "github.com/iliyamo/memory-gallery/internal/queue"
)

const thumbQuality = 82

func downloadPath(id string) string  { return "/v1/media/" + id + "/download" }
func thumbnailPath(id string) string { return "/v1/media/" + id + "/thumbnail" }

func (h *MediaHandler) thumbFile(id string) string {
	return filepath.Join(h.Cfg.MediaDir, id+"_thumb.jpg")
}

// originalFile finds the stored original of id, whatever its extension.
func (h *MediaHandler) originalFile(id string) (string, bool) {
	matches, _ := filepath.Glob(filepath.Join(h.Cfg.MediaDir, id+".*"))
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil && fi.Mode().IsRegular() {
			return m, true
		}
	}
	return "", false
}

func (h *MediaHandler) removeFiles(id string) {
	paths := []string{h.thumbFile(id)}
	if p, ok := h.originalFile(id); ok {
		paths = append(paths, p)
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.Log.Warn("remove media file failed", zap.String("path", p), zap.Error(err))
		}
	}
}

func extFor(format string) string {
	if format == "jpeg" {
		return ".jpg"
	}
	return "." + format
}

// Upload accepts a multipart form with title, description and an image in
// "file".  The original and a JPEG thumbnail are written to MediaDir and
// the entry points at the download and thumbnail routes.
func (h *MediaHandler) Upload(c echo.Context) error {
	// Cap the body before the multipart parser reads it.
	if limit := h.Cfg.MaxUploadBytes; limit > 0 {
		c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, limit)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return errJSON(c, http.StatusRequestEntityTooLarge, "upload too large")
		}
		return badRequest(c, "file required")
	}
	title := strings.TrimSpace(c.FormValue("title"))
	if title == "" {
		return badRequest(c, "title required")
	}

	// Read the whole file; it is decoded twice (config, then thumbnail).
	f, err := fh.Open()
	if err != nil {
		return badRequest(c, "unreadable file")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return badRequest(c, "unreadable file")
	}

	// Only the header is decoded here: format and dimensions.
	info, err := imaging.Inspect(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, imaging.ErrUnsupported) {
			return errJSON(c, http.StatusUnsupportedMediaType, "unsupported image format")
		}
		return badRequest(c, "unreadable image")
	}
	aspect, err := catalog.ClassifyAspect(info.Width, info.Height)
	if err != nil {
		return badRequest(c, err.Error())
	}

	// Files go to disk before the row exists; a failed insert removes them.
	now := h.now().UTC()
	id := h.newID(now)
	if err := h.writeFiles(id, extFor(info.Format), data); err != nil {
		h.removeFiles(id)
		h.Log.Error("store upload failed", zap.String("id", id), zap.Error(err))
		return errJSON(c, http.StatusInternalServerError, "store upload failed")
	}

	desc := strings.TrimSpace(c.FormValue("description"))
	if desc == "" {
		desc = catalog.DefaultDescription
	}
	e := model.MediaEntry{
		ID:           id,
		Kind:         model.KindImage,
		SourceURL:    downloadPath(id),
		ThumbnailURL: thumbnailPath(id),
		Title:        title,
		CreatedDate:  catalog.FormatDate(now),
		Description:  desc,
		Aspect:       aspect,
		UploadedBy:   middleware.Identifier(c),
		CreatedAt:    now,
	}

	ctx, cancel := withTimeout(c)
	defer cancel()
	saved, err := h.Store.Insert(ctx, e)
	if err != nil {
		h.removeFiles(id) // no orphans on disk
		return h.storeErr(c, "insert", err)
	}
	h.publish(ctx, q.MediaCreated, saved, middleware.Identifier(c))
	return c.JSON(http.StatusCreated, saved)
}

func (h *MediaHandler) writeFiles(id, ext string, data []byte) error {
	// original as <id>.<ext>, thumbnail as <id>_thumb.jpg
	if err := os.MkdirAll(h.Cfg.MediaDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(h.Cfg.MediaDir, id+ext), data, 0o644); err != nil {
		return err
	}
	out, err := os.Create(h.thumbFile(id))
	if err != nil {
		return err
	}
	if err := imaging.WriteThumbnail(bytes.NewReader(data), out, h.Cfg.ThumbMaxSide, thumbQuality); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// Download serves the original as an attachment named after the title.
// Entries stored as data URLs are decoded; remote URLs are redirected to.
func (h *MediaHandler) Download(c echo.Context) error {
	e, ok, err := h.lookup(c)
	if !ok {
		return err
	}
	// Uploaded files are on disk; entries created from JSON only have a URL.
	if p, ok := h.originalFile(e.ID); ok {
		return c.Attachment(p, DownloadName(e.Title, filepath.Ext(p)))
	}
	return h.serveURL(c, e.SourceURL, e.Title, true)
}

// Thumbnail serves the grid preview.
func (h *MediaHandler) Thumbnail(c echo.Context) error {
	e, ok, err := h.lookup(c)
	if !ok {
		return err
	}
	if p := h.thumbFile(e.ID); fileExists(p) {
		return c.File(p)
	}
	if e.ThumbnailURL == thumbnailPath(e.ID) {
		return errJSON(c, http.StatusNotFound, "thumbnail not found")
	}
	return h.serveURL(c, e.ThumbnailURL, e.Title, false)
}

// lookup validates the id parameter and loads the entry.  When ok is false
// the response has been written and err is the handler's result.
func (h *MediaHandler) lookup(c echo.Context) (model.MediaEntry, bool, error) {
	id := c.Param("id")
	// Reject anything that is not a ULID before it reaches the file system.
	if _, err := ulid.ParseStrict(id); err != nil {
		return model.MediaEntry{}, false, errJSON(c, http.StatusNotFound, "media not found")
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	e, err := h.Store.Get(ctx, id)
	if err != nil {
		return model.MediaEntry{}, false, h.storeErr(c, "get", err)
	}
	return e, true, nil
}

func (h *MediaHandler) serveURL(c echo.Context, raw, title string, attach bool) error {
	if strings.HasPrefix(raw, "data:") {
		mt, data, err := ParseDataURL(raw)
		if err != nil {
			return errJSON(c, http.StatusUnprocessableEntity, "stored data URL is malformed")
		}
		if attach {
			ext := extForMediaType(mt)
			c.Response().Header().Set(echo.HeaderContentDisposition,
				`attachment; filename="`+DownloadName(title, ext)+`"`)
		}
		return c.Blob(http.StatusOK, mt, data)
	}
	// Remote files are not proxied.
	if u, err := url.Parse(raw); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return c.Redirect(http.StatusFound, raw)
	}
	return errJSON(c, http.StatusNotFound, "file not found")
}

func extForMediaType(mt string) string {
	base, _, _ := strings.Cut(mt, ";")
	switch base {
	case "image/jpeg":
		return ".jpg"
	case "video/mp4":
		return ".mp4"
	}
	if exts, _ := mime.ExtensionsByType(base); len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}

// DownloadName turns a title into a safe file name: runs of whitespace
// become one underscore and characters other than letters, digits, '-',
// '_' and '.' are dropped.
func DownloadName(title, ext string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.TrimSpace(title) {
		switch {
		case unicode.IsSpace(r):
			space = true
			continue
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_', r == '.':
		default:
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte('_')
		}
		space = false
		b.WriteRune(r)
	}
	name := b.String()
	if name == "" {
		name = "memory"
	}
	return name + ext
}

// ParseDataURL decodes an RFC 2397 data URL.  Non-base64 payloads are
// percent-decoded.
func ParseDataURL(raw string) (mediaType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return "", nil, errors.New("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, errors.New("data URL without payload")
	}
	isBase64 := false
	if m, found := strings.CutSuffix(meta, ";base64"); found {
		meta, isBase64 = m, true
	}
	mediaType = meta
	if mediaType == "" || strings.HasPrefix(mediaType, ";") {
		mediaType = "text/plain" + mediaType
	}
	if isBase64 {
		data, err = base64.StdEncoding.DecodeString(payload)
		return mediaType, data, err
	}
	s, err := url.PathUnescape(payload)
	return mediaType, []byte(s), err
}
