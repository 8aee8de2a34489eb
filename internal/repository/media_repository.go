package repository

// This file persists gallery media.  Column names follow the external naming
// of the media table (aspect_ratio, uploaded_by, created_at, poetic_caption)
// and are mapped onto model.MediaEntry in exactly one place, scanMedia.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/memory-gallery/internal/model"
)

// ErrMediaNotFound is returned when no media row has the requested id.  It
// matches ErrNotFound under errors.Is.
var ErrMediaNotFound = fmt.Errorf("media %w", ErrNotFound)

// AnonymousUploader is stored when an entry has no known uploader.
const AnonymousUploader = "anonymous"

const mediaColumns = "id, type, url, thumbnail, title, date, description, aspect_ratio, uploaded_by, created_at, liked, poetic_caption"

// MediaRepo encapsulates all queries on the media table.
type MediaRepo struct {
	db *sql.DB
}

// NewMediaRepo constructs a MediaRepo with the provided DB handle.
func NewMediaRepo(db *sql.DB) *MediaRepo {
	return &MediaRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanMedia maps one media row onto a MediaEntry.
func scanMedia(s rowScanner) (model.MediaEntry, error) {
	var (
		e          model.MediaEntry
		kind       string
		aspect     string
		uploadedBy sql.NullString
		caption    sql.NullString
	)
	if err := s.Scan(&e.ID, &kind, &e.SourceURL, &e.ThumbnailURL, &e.Title, &e.CreatedDate,
		&e.Description, &aspect, &uploadedBy, &e.CreatedAt, &e.Liked, &caption); err != nil {
		return model.MediaEntry{}, err
	}
	e.Kind = model.MediaKind(kind)
	e.Aspect = model.Aspect(aspect)
	if !e.Aspect.Valid() {
		e.Aspect = model.AspectSquare
	}
	e.UploadedBy = uploadedBy.String
	e.ReflectionCaption = caption.String
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

// List returns every entry, newest first.
func (r *MediaRepo) List(ctx context.Context) ([]model.MediaEntry, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+mediaColumns+" FROM media ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.MediaEntry{}
	for rows.Next() {
		e, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Get fetches one entry by id.
func (r *MediaRepo) Get(ctx context.Context, id string) (model.MediaEntry, error) {
	e, err := scanMedia(r.db.QueryRowContext(ctx, "SELECT "+mediaColumns+" FROM media WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.MediaEntry{}, ErrMediaNotFound
	}
	return e, err
}

// Insert stores a new entry and returns it as persisted.  A missing uploader
// is stored as AnonymousUploader and new entries start unliked and without a
// caption.
func (r *MediaRepo) Insert(ctx context.Context, e model.MediaEntry) (model.MediaEntry, error) {
	if strings.TrimSpace(e.UploadedBy) == "" {
		e.UploadedBy = AnonymousUploader
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Kind == "" {
		e.Kind = model.KindImage
	}
	e.Liked = false
	e.ReflectionCaption = ""

	const q = `INSERT INTO media (` + mediaColumns + `)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`
	if _, err := r.db.ExecContext(ctx, q,
		e.ID, string(e.Kind), e.SourceURL, e.ThumbnailURL, e.Title, e.CreatedDate,
		e.Description, string(e.Aspect), e.UploadedBy, e.CreatedAt, e.Liked); err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == 1062 {
			return model.MediaEntry{}, ErrConflict
		}
		return model.MediaEntry{}, err
	}
	return e, nil
}

// UpdateLiked sets the liked flag.
func (r *MediaRepo) UpdateLiked(ctx context.Context, id string, liked bool) error {
	return r.execOne(ctx, "UPDATE media SET liked = ? WHERE id = ?", liked, id)
}

// UpdateCaption stores a reflection caption.
func (r *MediaRepo) UpdateCaption(ctx context.Context, id, caption string) error {
	return r.execOne(ctx, "UPDATE media SET poetic_caption = ? WHERE id = ?", caption, id)
}

// Delete removes an entry.
func (r *MediaRepo) Delete(ctx context.Context, id string) error {
	return r.execOne(ctx, "DELETE FROM media WHERE id = ?", id)
}

// execOne runs a statement that must touch exactly one row.
func (r *MediaRepo) execOne(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMediaNotFound
	}
	return nil
}
