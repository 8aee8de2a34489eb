package model

import "time"

// MediaKind distinguishes photos from videos.
type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
)

// Aspect is the layout class of a media entry in the gallery grid.  The
// values are the class names already stored in the media table, so they are
// kept verbatim.
type Aspect string

const (
	AspectWide   Aspect = "aspect-[3/2]"
	AspectTall   Aspect = "aspect-[2/3]"
	AspectSquare Aspect = "aspect-square"
)

// Valid reports whether a is one of the three known classes.
func (a Aspect) Valid() bool {
	switch a {
	case AspectWide, AspectTall, AspectSquare:
		return true
	}
	return false
}

// MediaEntry represents a photo or video in the gallery as stored in the
// `media` table.  The json tags use the external (column) names so that the
// HTTP API and the table share one naming convention.
//
// Fields:
//  ID                – ULID; unique and sortable by creation instant.
//  Kind              – image or video.
//  SourceURL         – full size file or data URL.
//  ThumbnailURL      – grid preview.
//  Title             – required, shown under the tile.
//  CreatedDate       – human readable date shown in the detail view.
//  Description       – free text; also the context for reflection captions.
//  Aspect            – layout class derived from width/height.
//  UploadedBy        – identifier of the uploader; empty when unknown.
//  CreatedAt         – creation instant; orders the catalog newest first.
//  Liked             – like toggle.
//  ReflectionCaption – AI generated caption; empty until requested.
//  Unsynced          – client only; set when the last write was not persisted.
type MediaEntry struct {
	ID                string    `json:"id"`             // media.id
	Kind              MediaKind `json:"type"`           // media.type
	SourceURL         string    `json:"url"`            // media.url
	ThumbnailURL      string    `json:"thumbnail"`      // media.thumbnail
	Title             string    `json:"title"`          // media.title
	CreatedDate       string    `json:"date"`           // media.date
	Description       string    `json:"description"`    // media.description
	Aspect            Aspect    `json:"aspect_ratio"`   // media.aspect_ratio
	UploadedBy        string    `json:"uploaded_by"`    // media.uploaded_by (nullable)
	CreatedAt         time.Time `json:"created_at"`     // media.created_at
	Liked             bool      `json:"liked"`          // media.liked
	ReflectionCaption string    `json:"poetic_caption"` // media.poetic_caption (nullable)
	Unsynced          bool      `json:"-"`
}
