package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Captioner produces reflection captions.  It never fails; errors are
// replaced by fallback text.
type Captioner interface {
	Caption(ctx context.Context, description string) string
}

// CaptionHandler exposes caption generation.  Persisting the caption is the
// caller's job (PATCH /v1/media/:id/caption).
type CaptionHandler struct {
	Captions Captioner
}

func NewCaptionHandler(c Captioner) *CaptionHandler { return &CaptionHandler{Captions: c} }

type captionGenReq struct {
	Description string `json:"description"`
}

// Generate returns {"caption": ...} for a photo description.  An empty
// description is allowed and yields a generic caption.
func (h *CaptionHandler) Generate(c echo.Context) error {
	var req captionGenReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	text := h.Captions.Caption(c.Request().Context(), strings.TrimSpace(req.Description))
	return c.JSON(http.StatusOK, echo.Map{"caption": text})
}
