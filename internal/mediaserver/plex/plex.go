package plex

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

// Client represents a Plex Media Server API client
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	retryConfig retry.Config
}

// Config holds Plex client configuration
type Config struct {
	BaseURL     string
	Token       string
	Timeout     time.Duration
	RetryConfig retry.Config
}

// New creates a new Plex client
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retryConfig: cfg.RetryConfig,
	}
}

type mediaContainer struct {
	MediaContainer struct {
		Directory []directory `json:"Directory"`
		Metadata  []metadata  `json:"Metadata"`
	} `json:"MediaContainer"`
}

type directory struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

type metadata struct {
	RatingKey            string  `json:"ratingKey"`
	LibrarySectionID     int     `json:"librarySectionID"`
	Type                 string  `json:"type"`
	Title                string  `json:"title"`
	Year                 int     `json:"year"`
	AddedAt              int64   `json:"addedAt"`
	LastViewedAt         int64   `json:"lastViewedAt"`
	ViewCount            int     `json:"viewCount"`
	Rating               float64 `json:"rating"`
	Index                int     `json:"index"`
	ParentIndex          int     `json:"parentIndex"`
	ParentRatingKey      string  `json:"parentRatingKey"`
	GrandparentRatingKey string  `json:"grandparentRatingKey"`
	Genre                []tag   `json:"Genre"`
	Label                []tag   `json:"Label"`
	Collection           []tag   `json:"Collection"`
	Guid                 []guid  `json:"Guid"`
	Media                []media `json:"Media"`

	// Session history responses carry the viewing account
	AccountID int   `json:"accountID"`
	ViewedAt  int64 `json:"viewedAt"`
}

type tag struct {
	Tag string `json:"tag"`
}

type guid struct {
	ID string `json:"id"`
}

type media struct {
	VideoResolution string `json:"videoResolution"`
	Part            []part `json:"Part"`
}

type part struct {
	Size int64 `json:"size"`
}

// Libraries lists all library sections
func (c *Client) Libraries(ctx context.Context) ([]mediaserver.Library, error) {
	container, err := c.get(ctx, "/library/sections")
	if err != nil {
		return nil, errors.ExternalServiceError("plex", "failed to list libraries", err)
	}

	libraries := make([]mediaserver.Library, 0, len(container.MediaContainer.Directory))
	for _, dir := range container.MediaContainer.Directory {
		kind, ok := libraryKind(dir.Type)
		if !ok {
			continue
		}
		libraries = append(libraries, mediaserver.Library{
			ID:    dir.Key,
			Title: dir.Title,
			Kind:  kind,
		})
	}

	return libraries, nil
}

// LibraryItems lists the top-level contents of a library section
func (c *Client) LibraryItems(ctx context.Context, libraryID string) ([]mediaserver.Item, error) {
	container, err := c.get(ctx, fmt.Sprintf("/library/sections/%s/all", libraryID))
	if err != nil {
		return nil, errors.ExternalServiceError("plex", "failed to list library items", err)
	}

	return c.toItems(container.MediaContainer.Metadata), nil
}

// Item fetches a fresh snapshot of a single item
func (c *Client) Item(ctx context.Context, key string) (*mediaserver.Item, error) {
	container, err := c.get(ctx, fmt.Sprintf("/library/metadata/%s", key))
	if err != nil {
		return nil, err
	}

	if len(container.MediaContainer.Metadata) == 0 {
		return nil, errors.NotFoundError("item", key)
	}

	item := c.toItem(container.MediaContainer.Metadata[0])
	return &item, nil
}

// Children lists an item's leaf descendants (episodes of a show or season)
func (c *Client) Children(ctx context.Context, key string) ([]mediaserver.Item, error) {
	container, err := c.get(ctx, fmt.Sprintf("/library/metadata/%s/allLeaves", key))
	if err != nil {
		return nil, errors.ExternalServiceError("plex", "failed to list children", err)
	}

	return c.toItems(container.MediaContainer.Metadata), nil
}

// WatchHistory lists per-user views for a show's episodes since a cutoff
func (c *Client) WatchHistory(ctx context.Context, showKey string, since time.Time) ([]mediaserver.WatchEvent, error) {
	endpoint := fmt.Sprintf(
		"/status/sessions/history/all?sort=viewedAt:desc&metadataItemID=%s&viewedAt>=%d",
		url.QueryEscape(showKey), since.Unix(),
	)

	container, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, errors.ExternalServiceError("plex", "failed to fetch watch history", err)
	}

	events := make([]mediaserver.WatchEvent, 0, len(container.MediaContainer.Metadata))
	for _, md := range container.MediaContainer.Metadata {
		if md.Type != "episode" {
			continue
		}
		events = append(events, mediaserver.WatchEvent{
			UserID:   fmt.Sprintf("%d", md.AccountID),
			ItemKey:  md.RatingKey,
			Season:   md.ParentIndex,
			Episode:  md.Index,
			ViewedAt: time.Unix(md.ViewedAt, 0),
		})
	}

	return events, nil
}

// DeleteItem removes the item and its files from the server
func (c *Client) DeleteItem(ctx context.Context, key string) error {
	err := retry.Do(ctx, c.retryConfig, func() error {
		return c.delete(ctx, fmt.Sprintf("/library/metadata/%s", key))
	}, errors.IsRetryable)

	if err != nil {
		return errors.ExternalServiceError("plex", "failed to delete item", err)
	}

	return nil
}

// OnWatchlist reports whether the item appears on the account watchlist.
// Plex exposes the watchlist through the discover provider; the server proxies
// it under /library/sections/watchlist/all for the owning account.
func (c *Client) OnWatchlist(ctx context.Context, item *mediaserver.Item) (bool, error) {
	container, err := c.get(ctx, "/library/sections/watchlist/all")
	if err != nil {
		return false, errors.ExternalServiceError("plex", "failed to fetch watchlist", err)
	}

	for _, md := range container.MediaContainer.Metadata {
		if md.RatingKey == item.Key {
			return true, nil
		}
		if md.Title == item.Title && md.Year == item.Year {
			return true, nil
		}
	}

	return false, nil
}

// AddLabel attaches a label to the item
func (c *Client) AddLabel(ctx context.Context, key, label string) error {
	endpoint := fmt.Sprintf("/library/metadata/%s?label[0].tag.tag=%s&label.locked=1", key, url.QueryEscape(label))

	err := retry.Do(ctx, c.retryConfig, func() error {
		req, err := c.newRequest(ctx, "PUT", endpoint)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return errors.NotFoundError("item", key)
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
		}
		return nil
	}, errors.IsRetryable)

	if err != nil {
		return errors.ExternalServiceError("plex", "failed to add label", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string) (*mediaContainer, error) {
	return retry.DoWithResult(ctx, c.retryConfig, func() (*mediaContainer, error) {
		req, err := c.newRequest(ctx, "GET", endpoint)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil, errors.NotFoundError("resource", endpoint)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
		}

		var container mediaContainer
		if err := json.NewDecoder(resp.Body).Decode(&container); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}

		return &container, nil
	}, errors.IsRetryable)
}

func (c *Client) delete(ctx context.Context, endpoint string) error {
	req, err := c.newRequest(ctx, "DELETE", endpoint)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("Accept", "application/json")

	return req, nil
}

func (c *Client) toItems(metadatas []metadata) []mediaserver.Item {
	items := make([]mediaserver.Item, 0, len(metadatas))
	for _, md := range metadatas {
		items = append(items, c.toItem(md))
	}
	return items
}

func (c *Client) toItem(md metadata) mediaserver.Item {
	item := mediaserver.Item{
		Key:           md.RatingKey,
		LibraryID:     fmt.Sprintf("%d", md.LibrarySectionID),
		Title:         md.Title,
		Year:          md.Year,
		AddedAt:       time.Unix(md.AddedAt, 0),
		ViewCount:     md.ViewCount,
		Rating:        md.Rating,
		SeasonNumber:  md.ParentIndex,
		EpisodeNumber: md.Index,
		ParentKey:     md.ParentRatingKey,
		ShowKey:       md.GrandparentRatingKey,
	}

	if kind, ok := itemKind(md.Type); ok {
		item.Kind = kind
	}

	if md.LastViewedAt > 0 {
		t := time.Unix(md.LastViewedAt, 0)
		item.LastViewedAt = &t
	}

	for _, g := range md.Genre {
		item.Genres = append(item.Genres, g.Tag)
	}
	for _, l := range md.Label {
		item.Labels = append(item.Labels, l.Tag)
	}
	for _, col := range md.Collection {
		item.Collections = append(item.Collections, col.Tag)
	}

	for _, g := range md.Guid {
		parseGUID(g.ID, &item.IDs)
	}

	for _, m := range md.Media {
		if item.Resolution == "" {
			item.Resolution = normalizeResolution(m.VideoResolution)
		}
		for _, p := range m.Part {
			item.FileSize += p.Size
		}
	}

	return item
}

// parseGUID extracts provider IDs from agent identifiers such as
// "tmdb://603", "tvdb://81189" and "imdb://tt0133093".
func parseGUID(id string, ids *mediaserver.ExternalIDs) {
	switch {
	case strings.HasPrefix(id, "tmdb://"):
		fmt.Sscanf(strings.TrimPrefix(id, "tmdb://"), "%d", &ids.TMDB)
	case strings.HasPrefix(id, "tvdb://"):
		fmt.Sscanf(strings.TrimPrefix(id, "tvdb://"), "%d", &ids.TVDB)
	case strings.HasPrefix(id, "imdb://"):
		ids.IMDB = strings.TrimPrefix(id, "imdb://")
	}
}

func normalizeResolution(res string) string {
	switch strings.ToLower(res) {
	case "4k", "2160", "2160p":
		return "4K"
	case "1080", "1080p":
		return "1080p"
	case "720", "720p":
		return "720p"
	case "":
		return ""
	default:
		return "SD"
	}
}

func libraryKind(plexType string) (models.MediaKind, bool) {
	switch plexType {
	case "movie":
		return models.MediaKindMovies, true
	case "show":
		return models.MediaKindShows, true
	}
	return "", false
}

func itemKind(plexType string) (models.MediaKind, bool) {
	switch plexType {
	case "movie":
		return models.MediaKindMovies, true
	case "show":
		return models.MediaKindShows, true
	case "season":
		return models.MediaKindSeasons, true
	case "episode":
		return models.MediaKindEpisodes, true
	}
	return "", false
}
