// Package catalog is the gallery's in-memory list of media entries.  The
// catalog owns the list; the Store owns the durable copy.  The list is a
// cache of the store and is only reconciled by Load.
package catalog

import (
	"context"
	"crypto/rand"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/iliyamo/memory-gallery/internal/model"
)

// Store is the persistence collaborator.
type Store interface {
	List(ctx context.Context) ([]model.MediaEntry, error)
	Insert(ctx context.Context, e model.MediaEntry) (model.MediaEntry, error)
	UpdateLiked(ctx context.Context, id string, liked bool) error
	UpdateCaption(ctx context.Context, id, caption string) error
	Delete(ctx context.Context, id string) error
}

// Captioner turns a description into a reflection caption.  Implementations
// never fail; they return fallback text instead.
type Captioner interface {
	Caption(ctx context.Context, description string) string
}

// DefaultReflection is shown when no captioner is configured or it produced
// nothing.
const DefaultReflection = "A moment frozen in time."

// DefaultDescription fills in an upload without a description.
const DefaultDescription = "A new memory added to the collection."

// Draft is an upload waiting to be added.
type Draft struct {
	Kind         model.MediaKind
	Title        string
	Description  string
	SourceURL    string
	ThumbnailURL string
	Width        int
	Height       int
	UploadedBy   string
}

// Confirmation is the answer of the delete confirmation dialog.  Only a
// value returned by Confirm with yes=true allows Remove to proceed.
type Confirmation struct {
	id  string
	yes bool
}

// Confirm records the user's answer to "delete this memory?".
func Confirm(id string, yes bool) Confirmation {
	return Confirmation{id: id, yes: yes}
}

// Catalog holds the newest-first list of entries.  All methods are safe for
// concurrent use and each one is atomic with respect to the list.
type Catalog struct {
	store     Store
	captioner Captioner
	log       *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	items   []model.MediaEntry
	entropy io.Reader
}

// New returns an empty catalog backed by store.
func New(store Store, captioner Captioner, log *zap.Logger) *Catalog {
	if log == nil {
		log = zap.NewNop()
	}
	return &Catalog{
		store:     store,
		captioner: captioner,
		log:       log,
		now:       time.Now,
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}
}

// NewID returns a ULID for an entry created at t.
func NewID(t time.Time, entropy io.Reader) string {
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// FormatDate renders the display date stored with new entries.
func FormatDate(t time.Time) string {
	return t.Format("January 2, 2006")
}

// Items returns a copy of the current list.
func (c *Catalog) Items() []model.MediaEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.MediaEntry(nil), c.items...)
}

// Get returns the entry with id.
func (c *Catalog) Get(id string) (model.MediaEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(id)
	if i < 0 {
		return model.MediaEntry{}, false
	}
	return c.items[i], true
}

// Stats recomputes the admin statistics from the current list.
func (c *Catalog) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ComputeStats(c.items)
}

// Search filters the current list.
func (c *Catalog) Search(query string) []model.MediaEntry {
	return Search(c.Items(), query)
}

func (c *Catalog) indexOf(id string) int {
	for i := range c.items {
		if c.items[i].ID == id {
			return i
		}
	}
	return -1
}

// Load replaces the list with the store's entries, newest first.  On a store
// failure the list becomes empty and the failure is returned; nothing is
// made up.
func (c *Catalog) Load(ctx context.Context) ([]model.MediaEntry, error) {
	items, err := c.store.List(ctx)
	if err != nil {
		c.log.Error("media load failed", zap.Error(err))
		c.mu.Lock()
		c.items = nil
		c.mu.Unlock()
		return []model.MediaEntry{}, &PersistenceFailure{Op: "load", Err: err}
	}
	items = dedupe(items)
	SortNewestFirst(items)

	c.mu.Lock()
	c.items = items
	c.mu.Unlock()
	return append([]model.MediaEntry(nil), items...), nil
}

// dedupe keeps the first entry for every id.
func dedupe(items []model.MediaEntry) []model.MediaEntry {
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, it := range items {
		if _, ok := seen[it.ID]; ok {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	return out
}

// Add validates draft, prepends the new entry and persists it.  When the
// store rejects the insert the entry stays in the list marked Unsynced and a
// PersistenceFailure is returned together with it.
func (c *Catalog) Add(ctx context.Context, d Draft) (model.MediaEntry, error) {
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return model.MediaEntry{}, &ValidationError{Field: "title", Message: "required"}
	}
	if d.SourceURL == "" {
		return model.MediaEntry{}, &ValidationError{Field: "image", Message: "required"}
	}
	aspect, err := ClassifyAspect(d.Width, d.Height)
	if err != nil {
		return model.MediaEntry{}, err
	}
	kind := d.Kind
	if kind == "" {
		kind = model.KindImage
	}
	desc := strings.TrimSpace(d.Description)
	if desc == "" {
		desc = DefaultDescription
	}
	thumb := d.ThumbnailURL
	if thumb == "" {
		thumb = d.SourceURL
	}

	c.mu.Lock()
	now := c.now().UTC()
	e := model.MediaEntry{
		ID:           NewID(now, c.entropy),
		Kind:         kind,
		SourceURL:    d.SourceURL,
		ThumbnailURL: thumb,
		Title:        title,
		CreatedDate:  FormatDate(now),
		Description:  desc,
		Aspect:       aspect,
		UploadedBy:   d.UploadedBy,
		CreatedAt:    now,
	}
	c.items = append([]model.MediaEntry{e}, c.items...)
	c.mu.Unlock()

	saved, err := c.store.Insert(ctx, e)
	if err != nil {
		c.log.Warn("media insert failed; kept locally", zap.String("id", e.ID), zap.Error(err))
		e.Unsynced = true
		c.replace(e)
		return e, &PersistenceFailure{Op: "insert", ID: e.ID, Err: err}
	}
	if saved.ID == e.ID {
		e = saved
		c.replace(e)
	}
	return e, nil
}

// Prepend lists an entry the store created itself, such as a server-side
// upload, at the head of the list.  An entry already listed under the same
// id is replaced in place.
func (c *Catalog) Prepend(e model.MediaEntry) error {
	if e.ID == "" {
		return &ValidationError{Field: "id", Message: "required"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexOf(e.ID); i >= 0 {
		c.items[i] = e
		return nil
	}
	c.items = append([]model.MediaEntry{e}, c.items...)
	return nil
}

// replace overwrites the entry with the same id, if it is still listed.
func (c *Catalog) replace(e model.MediaEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexOf(e.ID); i >= 0 {
		c.items[i] = e
	}
}

func (c *Catalog) markUnsynced(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexOf(id); i >= 0 {
		c.items[i].Unsynced = true
	}
}

// ToggleLike flips the liked flag locally and then persists it.  An unknown
// id is logged and ignored.  A failed write is not rolled back; the entry is
// marked Unsynced and the failure returned.
func (c *Catalog) ToggleLike(ctx context.Context, id string) error {
	c.mu.Lock()
	i := c.indexOf(id)
	if i < 0 {
		c.mu.Unlock()
		c.log.Warn("like for unknown media", zap.String("id", id))
		return nil
	}
	c.items[i].Liked = !c.items[i].Liked
	liked := c.items[i].Liked
	c.mu.Unlock()

	if err := c.store.UpdateLiked(ctx, id, liked); err != nil {
		c.log.Warn("like not persisted", zap.String("id", id), zap.Bool("liked", liked), zap.Error(err))
		c.markUnsynced(id)
		return &PersistenceFailure{Op: "like", ID: id, Err: err}
	}
	return nil
}

// RequestReflection generates a caption for the entry from its description,
// stores it on the entry and persists it on a best-effort basis.  It always
// returns displayable text.
func (c *Catalog) RequestReflection(ctx context.Context, id string) string {
	e, ok := c.Get(id)
	if !ok {
		c.log.Warn("reflection for unknown media", zap.String("id", id))
		return DefaultReflection
	}

	caption := ""
	if c.captioner != nil {
		caption = strings.TrimSpace(c.captioner.Caption(ctx, e.Description))
	}
	if caption == "" {
		caption = DefaultReflection
	}

	c.mu.Lock()
	if i := c.indexOf(id); i >= 0 {
		c.items[i].ReflectionCaption = caption
	}
	c.mu.Unlock()

	if err := c.store.UpdateCaption(ctx, id, caption); err != nil {
		c.log.Warn("caption not persisted", zap.String("id", id), zap.Error(err))
		c.markUnsynced(id)
	}
	return caption
}

// Remove deletes a confirmed entry from the store and, only after the store
// confirmed, from the list.
func (c *Catalog) Remove(ctx context.Context, conf Confirmation) error {
	if !conf.yes || conf.id == "" {
		return ErrNotConfirmed
	}
	if _, ok := c.Get(conf.id); !ok {
		return ErrNotFound
	}
	if err := c.store.Delete(ctx, conf.id); err != nil {
		c.log.Error("media delete failed; entry kept", zap.String("id", conf.id), zap.Error(err))
		return &PersistenceFailure{Op: "delete", ID: conf.id, Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexOf(conf.id); i >= 0 {
		c.items = append(c.items[:i], c.items[i+1:]...)
	}
	return nil
}

// Reset empties the list, for example on logout.
func (c *Catalog) Reset() {
	c.mu.Lock()
	c.items = nil
	c.mu.Unlock()
}
