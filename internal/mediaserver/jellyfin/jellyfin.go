package jellyfin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sybethiesant/flexerr/internal/errors"
	"github.com/sybethiesant/flexerr/internal/mediaserver"
	"github.com/sybethiesant/flexerr/internal/models"
	"github.com/sybethiesant/flexerr/internal/retry"
)

// Client represents a Jellyfin API client
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	retryConfig retry.Config
}

// Config holds Jellyfin client configuration
type Config struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	RetryConfig retry.Config
}

// New creates a new Jellyfin client
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retryConfig: cfg.RetryConfig,
	}
}

type itemsResponse struct {
	Items []item `json:"Items"`
}

type item struct {
	ID                string            `json:"Id"`
	Name              string            `json:"Name"`
	Type              string            `json:"Type"`
	CollectionType    string            `json:"CollectionType"`
	ProductionYear    int               `json:"ProductionYear"`
	DateCreated       time.Time         `json:"DateCreated"`
	CommunityRating   float64           `json:"CommunityRating"`
	Genres            []string          `json:"Genres"`
	Tags              []string          `json:"Tags"`
	ProviderIds       map[string]string `json:"ProviderIds"`
	IndexNumber       int               `json:"IndexNumber"`
	ParentIndexNumber int               `json:"ParentIndexNumber"`
	ParentID          string            `json:"ParentId"`
	SeriesID          string            `json:"SeriesId"`
	UserData          *userData         `json:"UserData"`
	MediaSources      []mediaSource     `json:"MediaSources"`
	Width             int               `json:"Width"`
}

type userData struct {
	PlayCount  int        `json:"PlayCount"`
	LastPlayed *time.Time `json:"LastPlayedDate"`
	IsFavorite bool       `json:"IsFavorite"`
}

type mediaSource struct {
	Size int64 `json:"Size"`
}

type playbackEntry struct {
	UserID            string    `json:"UserId"`
	ItemID            string    `json:"ItemId"`
	IndexNumber       int       `json:"IndexNumber"`
	ParentIndexNumber int       `json:"ParentIndexNumber"`
	DatePlayed        time.Time `json:"DatePlayed"`
}

// Libraries lists all library folders
func (c *Client) Libraries(ctx context.Context) ([]mediaserver.Library, error) {
	var resp itemsResponse
	if err := c.getJSON(ctx, "/Items?IncludeItemTypes=CollectionFolder&Recursive=false", &resp); err != nil {
		return nil, errors.ExternalServiceError("jellyfin", "failed to list libraries", err)
	}

	libraries := make([]mediaserver.Library, 0, len(resp.Items))
	for _, it := range resp.Items {
		kind, ok := libraryKind(it.CollectionType)
		if !ok {
			continue
		}
		libraries = append(libraries, mediaserver.Library{
			ID:    it.ID,
			Title: it.Name,
			Kind:  kind,
		})
	}

	return libraries, nil
}

// LibraryItems lists the top-level contents of a library
func (c *Client) LibraryItems(ctx context.Context, libraryID string) ([]mediaserver.Item, error) {
	endpoint := fmt.Sprintf(
		"/Items?ParentId=%s&IncludeItemTypes=Movie,Series&Recursive=true&Fields=DateCreated,Genres,Tags,ProviderIds,MediaSources",
		url.QueryEscape(libraryID),
	)

	var resp itemsResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, errors.ExternalServiceError("jellyfin", "failed to list library items", err)
	}

	items := make([]mediaserver.Item, 0, len(resp.Items))
	for _, it := range resp.Items {
		items = append(items, c.toItem(it, libraryID))
	}

	return items, nil
}

// Item fetches a fresh snapshot of a single item
func (c *Client) Item(ctx context.Context, key string) (*mediaserver.Item, error) {
	endpoint := fmt.Sprintf(
		"/Items?Ids=%s&Fields=DateCreated,Genres,Tags,ProviderIds,MediaSources",
		url.QueryEscape(key),
	)

	var resp itemsResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	if len(resp.Items) == 0 {
		return nil, errors.NotFoundError("item", key)
	}

	converted := c.toItem(resp.Items[0], "")
	return &converted, nil
}

// Children lists the episodes beneath a show or season
func (c *Client) Children(ctx context.Context, key string) ([]mediaserver.Item, error) {
	endpoint := fmt.Sprintf(
		"/Items?ParentId=%s&IncludeItemTypes=Episode&Recursive=true&Fields=DateCreated,MediaSources",
		url.QueryEscape(key),
	)

	var resp itemsResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, errors.ExternalServiceError("jellyfin", "failed to list children", err)
	}

	items := make([]mediaserver.Item, 0, len(resp.Items))
	for _, it := range resp.Items {
		items = append(items, c.toItem(it, ""))
	}

	return items, nil
}

// WatchHistory lists per-user views for a show's episodes since a cutoff.
// Requires the playback reporting plugin endpoint.
func (c *Client) WatchHistory(ctx context.Context, showKey string, since time.Time) ([]mediaserver.WatchEvent, error) {
	endpoint := fmt.Sprintf(
		"/user_usage_stats/PlayActivity?filter=Episode&parentId=%s&since=%s",
		url.QueryEscape(showKey), url.QueryEscape(since.Format(time.RFC3339)),
	)

	var entries []playbackEntry
	if err := c.getJSON(ctx, endpoint, &entries); err != nil {
		return nil, errors.ExternalServiceError("jellyfin", "failed to fetch watch history", err)
	}

	events := make([]mediaserver.WatchEvent, 0, len(entries))
	for _, e := range entries {
		events = append(events, mediaserver.WatchEvent{
			UserID:   e.UserID,
			ItemKey:  e.ItemID,
			Season:   e.ParentIndexNumber,
			Episode:  e.IndexNumber,
			ViewedAt: e.DatePlayed,
		})
	}

	return events, nil
}

// DeleteItem removes the item and its files from the server
func (c *Client) DeleteItem(ctx context.Context, key string) error {
	err := retry.Do(ctx, c.retryConfig, func() error {
		req, err := c.newRequest(ctx, "DELETE", fmt.Sprintf("/Items/%s", url.PathEscape(key)))
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
		}

		return nil
	}, errors.IsRetryable)

	if err != nil {
		return errors.ExternalServiceError("jellyfin", "failed to delete item", err)
	}

	return nil
}

// OnWatchlist reports whether any user has the item marked as a favorite.
// Jellyfin has no first-class watchlist; favorites are the closest signal.
func (c *Client) OnWatchlist(ctx context.Context, item *mediaserver.Item) (bool, error) {
	endpoint := fmt.Sprintf("/Items?Ids=%s&Fields=UserData", url.QueryEscape(item.Key))

	var resp itemsResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return false, errors.ExternalServiceError("jellyfin", "failed to check favorites", err)
	}

	for _, it := range resp.Items {
		if it.UserData != nil && it.UserData.IsFavorite {
			return true, nil
		}
	}

	return false, nil
}

// AddLabel is not supported: Jellyfin tag updates require a full item
// resubmission, which this client does not perform
func (c *Client) AddLabel(ctx context.Context, key, label string) error {
	return errors.ExternalServiceError("jellyfin", "labels are not supported", nil)
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	return retry.Do(ctx, c.retryConfig, func() error {
		req, err := c.newRequest(ctx, "GET", endpoint)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return errors.NotFoundError("resource", endpoint)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		return nil
	}, errors.IsRetryable)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("X-Emby-Token", c.apiKey)
	req.Header.Set("Accept", "application/json")

	return req, nil
}

func (c *Client) toItem(it item, libraryID string) mediaserver.Item {
	converted := mediaserver.Item{
		Key:           it.ID,
		LibraryID:     libraryID,
		Title:         it.Name,
		Year:          it.ProductionYear,
		AddedAt:       it.DateCreated,
		Rating:        it.CommunityRating,
		Genres:        it.Genres,
		Labels:        it.Tags,
		SeasonNumber:  it.ParentIndexNumber,
		EpisodeNumber: it.IndexNumber,
		ParentKey:     it.ParentID,
		ShowKey:       it.SeriesID,
	}

	if kind, ok := itemKind(it.Type); ok {
		converted.Kind = kind
	}

	if it.UserData != nil {
		converted.ViewCount = it.UserData.PlayCount
		converted.LastViewedAt = it.UserData.LastPlayed
	}

	for _, src := range it.MediaSources {
		converted.FileSize += src.Size
	}

	converted.Resolution = resolutionFromWidth(it.Width)

	if id, ok := it.ProviderIds["Tmdb"]; ok {
		fmt.Sscanf(id, "%d", &converted.IDs.TMDB)
	}
	if id, ok := it.ProviderIds["Tvdb"]; ok {
		fmt.Sscanf(id, "%d", &converted.IDs.TVDB)
	}
	if id, ok := it.ProviderIds["Imdb"]; ok {
		converted.IDs.IMDB = id
	}

	return converted
}

func resolutionFromWidth(width int) string {
	switch {
	case width >= 3800:
		return "4K"
	case width >= 1900:
		return "1080p"
	case width >= 1200:
		return "720p"
	case width > 0:
		return "SD"
	default:
		return ""
	}
}

func libraryKind(collectionType string) (models.MediaKind, bool) {
	switch collectionType {
	case "movies":
		return models.MediaKindMovies, true
	case "tvshows":
		return models.MediaKindShows, true
	}
	return "", false
}

func itemKind(jellyfinType string) (models.MediaKind, bool) {
	switch jellyfinType {
	case "Movie":
		return models.MediaKindMovies, true
	case "Series":
		return models.MediaKindShows, true
	case "Season":
		return models.MediaKindSeasons, true
	case "Episode":
		return models.MediaKindEpisodes, true
	}
	return "", false
}
