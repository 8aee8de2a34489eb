package catalog

import (
	"sort"
	"strings"

	"github.com/iliyamo/memory-gallery/internal/model"
)

// Aspect thresholds on width/height.
const (
	wideRatio = 1.25
	tallRatio = 0.8
)

// ClassifyAspect maps image dimensions to a layout class: wider than 1.25 is
// wide, narrower than 0.8 is tall, everything in between is square.
func ClassifyAspect(width, height int) (model.Aspect, error) {
	if width <= 0 || height <= 0 {
		return "", &ValidationError{Field: "image", Message: "image dimensions unavailable"}
	}
	ratio := float64(width) / float64(height)
	switch {
	case ratio > wideRatio:
		return model.AspectWide, nil
	case ratio < tallRatio:
		return model.AspectTall, nil
	}
	return model.AspectSquare, nil
}

// Search returns the entries whose title, description or uploader contains
// query, ignoring case.  Order is preserved and an empty query matches
// everything.
func Search(items []model.MediaEntry, query string) []model.MediaEntry {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]model.MediaEntry, 0, len(items))
	for _, it := range items {
		if q == "" ||
			strings.Contains(strings.ToLower(it.Title), q) ||
			strings.Contains(strings.ToLower(it.Description), q) ||
			strings.Contains(strings.ToLower(it.UploadedBy), q) {
			out = append(out, it)
		}
	}
	return out
}

// SortNewestFirst orders entries by creation instant, newest first.  Ties
// fall back to the id, which is time ordered as well.
func SortNewestFirst(items []model.MediaEntry) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
}

// Stats are the aggregate numbers on the admin dashboard.
type Stats struct {
	Total     int `json:"total"`
	Liked     int `json:"liked"`
	Captioned int `json:"captioned"`
	Uploaders int `json:"uploaders"`
}

// ComputeStats derives Stats from a sequence of entries.
func ComputeStats(items []model.MediaEntry) Stats {
	st := Stats{Total: len(items)}
	uploaders := make(map[string]struct{})
	for _, it := range items {
		if it.Liked {
			st.Liked++
		}
		if strings.TrimSpace(it.ReflectionCaption) != "" {
			st.Captioned++
		}
		if it.UploadedBy != "" {
			uploaders[it.UploadedBy] = struct{}{}
		}
	}
	st.Uploaders = len(uploaders)
	return st
}
