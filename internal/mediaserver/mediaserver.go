// Package mediaserver defines the vendor-neutral contract the engine uses to
// browse and mutate a media library. Concrete backends live in the plex and
// jellyfin subpackages; the engine only ever sees this interface.
package mediaserver

import (
	"context"
	"time"

	"github.com/sybethiesant/flexerr/internal/models"
)

// Library represents a media-server library section
type Library struct {
	ID    string
	Title string
	Kind  models.MediaKind
}

// ExternalIDs holds the metadata-provider identifiers attached to an item
type ExternalIDs struct {
	TMDB int
	TVDB int
	IMDB string
}

// Item is a normalized snapshot of a media-server item at fetch time.
// Evaluation never reaches back to the server through an Item; anything a
// condition needs must be captured here or in the evaluation context.
type Item struct {
	Key       string
	LibraryID string
	Kind      models.MediaKind
	Title     string
	Year      int

	AddedAt      time.Time
	LastViewedAt *time.Time
	ViewCount    int
	RequestedAt  *time.Time

	Rating      float64
	Genres      []string
	Labels      []string
	Collections []string
	Resolution  string
	FileSize    int64

	IDs ExternalIDs

	// Season/episode fields are only meaningful for episode items
	SeasonNumber  int
	EpisodeNumber int
	ParentKey     string
	ShowKey       string

	// WatchedBy lists user identifiers with at least one view of this item
	WatchedBy []string
}

// Is4K reports whether the item's primary media is 4K
func (i *Item) Is4K() bool {
	return i.Resolution == "4K"
}

// Watched reports whether anyone has viewed the item
func (i *Item) Watched() bool {
	return i.ViewCount > 0
}

// WatchEvent represents one user's view of one episode
type WatchEvent struct {
	UserID   string
	ItemKey  string
	Season   int
	Episode  int
	ViewedAt time.Time
}

// Adapter is the media-server contract consumed by the engine. Implementable
// against either a Plex-like or Jellyfin-like backend.
type Adapter interface {
	// Libraries lists all library sections
	Libraries(ctx context.Context) ([]Library, error)

	// LibraryItems lists the top-level contents of a library
	LibraryItems(ctx context.Context, libraryID string) ([]Item, error)

	// Item fetches a fresh snapshot of a single item, or a not-found error
	Item(ctx context.Context, key string) (*Item, error)

	// Children lists an item's descendants: episodes for a show or season
	Children(ctx context.Context, key string) ([]Item, error)

	// WatchHistory lists per-user views for a show's episodes since a cutoff
	WatchHistory(ctx context.Context, showKey string, since time.Time) ([]WatchEvent, error)

	// DeleteItem removes the item and its files from the server
	DeleteItem(ctx context.Context, key string) error

	// OnWatchlist reports whether any user has the item on the server-side watchlist
	OnWatchlist(ctx context.Context, item *Item) (bool, error)

	// AddLabel attaches a label to the item. Backends without label support
	// return an external-service error.
	AddLabel(ctx context.Context, key, label string) error
}
