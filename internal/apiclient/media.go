package apiclient

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/iliyamo/memory-gallery/internal/catalog"
	"github.com/iliyamo/memory-gallery/internal/model"
)

func mediaPath(id string) string { return "/v1/media/" + url.PathEscape(id) }

// List returns every media entry.
func (c *Client) List(ctx context.Context) ([]model.MediaEntry, error) {
	var out []model.MediaEntry
	if err := c.call(ctx, request{method: http.MethodGet, path: "/v1/media", auth: true}, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.MediaEntry{}
	}
	return out, nil
}

// Insert stores e and returns the entry as the API saved it.
func (c *Client) Insert(ctx context.Context, e model.MediaEntry) (model.MediaEntry, error) {
	r, err := jsonRequest(http.MethodPost, "/v1/media", e, true)
	if err != nil {
		return model.MediaEntry{}, err
	}
	var out model.MediaEntry
	if err := c.call(ctx, r, &out); err != nil {
		return model.MediaEntry{}, err
	}
	return out, nil
}

// UpdateLiked stores the like flag of id.
func (c *Client) UpdateLiked(ctx context.Context, id string, liked bool) error {
	r, err := jsonRequest(http.MethodPatch, mediaPath(id)+"/like", map[string]bool{"liked": liked}, true)
	if err != nil {
		return err
	}
	return c.call(ctx, r, nil)
}

// UpdateCaption stores the reflection caption of id.
func (c *Client) UpdateCaption(ctx context.Context, id, caption string) error {
	r, err := jsonRequest(http.MethodPatch, mediaPath(id)+"/caption", map[string]string{"caption": caption}, true)
	if err != nil {
		return err
	}
	return c.call(ctx, r, nil)
}

// Delete removes id.  Callers confirm with the user first; the API needs the
// confirm flag on every delete.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.call(ctx, request{method: http.MethodDelete, path: mediaPath(id) + "?confirm=true", auth: true}, nil)
}

// Caption asks the API for a reflection caption.  Failures are logged and
// answered with the default reflection.
func (c *Client) Caption(ctx context.Context, description string) string {
	r, err := jsonRequest(http.MethodPost, "/v1/captions", map[string]string{"description": description}, true)
	if err == nil {
		var out struct {
			Caption string `json:"caption"`
		}
		if err = c.call(ctx, r, &out); err == nil && strings.TrimSpace(out.Caption) != "" {
			return strings.TrimSpace(out.Caption)
		}
	}
	if err != nil {
		c.Log.Warn("caption request failed", zap.Error(err))
	}
	return catalog.DefaultReflection
}

// UploadFile sends an image as multipart form data.  The API stores the
// file, derives the aspect class and thumbnail, and returns the new entry.
func (c *Client) UploadFile(ctx context.Context, title, description, filename string, content io.Reader) (model.MediaEntry, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("title", title)
	_ = mw.WriteField("description", description)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return model.MediaEntry{}, err
	}
	if _, err := io.Copy(fw, content); err != nil {
		return model.MediaEntry{}, err
	}
	if err := mw.Close(); err != nil {
		return model.MediaEntry{}, err
	}

	r := request{
		method:      http.MethodPost,
		path:        "/v1/media/upload",
		body:        buf.Bytes(),
		contentType: mw.FormDataContentType(),
		auth:        true,
	}
	var out model.MediaEntry
	if err := c.call(ctx, r, &out); err != nil {
		return model.MediaEntry{}, err
	}
	return out, nil
}
