package sonarr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sybethiesant/flexerr/internal/errors"
	"github.com/sybethiesant/flexerr/internal/retry"
)

// Client represents a Sonarr API client
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	retryConfig retry.Config
}

// Config holds Sonarr client configuration
type Config struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	RetryConfig retry.Config
}

// Series represents a Sonarr series
type Series struct {
	ID                int       `json:"id"`
	Title             string    `json:"title"`
	TvdbID            int       `json:"tvdbId"`
	Path              string    `json:"path"`
	Monitored         bool      `json:"monitored"`
	SeasonCount       int       `json:"seasonCount"`
	EpisodeFileCount  int       `json:"episodeFileCount"`
	TotalEpisodeCount int       `json:"totalEpisodeCount"`
	SizeOnDisk        int64     `json:"sizeOnDisk"`
	Added             time.Time `json:"added"`
	QualityProfileID  int       `json:"qualityProfileId"`
}

// Episode represents a Sonarr episode
type Episode struct {
	ID            int       `json:"id"`
	SeriesID      int       `json:"seriesId"`
	Title         string    `json:"title"`
	SeasonNumber  int       `json:"seasonNumber"`
	EpisodeNumber int       `json:"episodeNumber"`
	HasFile       bool      `json:"hasFile"`
	Monitored     bool      `json:"monitored"`
	AirDateUtc    time.Time `json:"airDateUtc"`
}

// New creates a new Sonarr client
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retryConfig: cfg.RetryConfig,
	}
}

// LookupByTVDBID retrieves the Sonarr series linked to a TVDB identifier.
// Returns a not-found error when Sonarr does not manage the series.
func (c *Client) LookupByTVDBID(ctx context.Context, tvdbID int) (*Series, error) {
	endpoint := fmt.Sprintf("/api/v3/series?tvdbId=%d", tvdbID)

	series, err := retry.DoWithResult(ctx, c.retryConfig, func() ([]Series, error) {
		return c.getSeries(ctx, endpoint)
	}, errors.IsRetryable)

	if err != nil {
		return nil, errors.ExternalServiceError("sonarr", "failed to look up series", err)
	}

	if len(series) == 0 {
		return nil, errors.NotFoundError("series", fmt.Sprintf("tvdb:%d", tvdbID))
	}

	return &series[0], nil
}

// DeleteSeries removes a series from Sonarr, optionally deleting its files
func (c *Client) DeleteSeries(ctx context.Context, id int, deleteFiles bool) error {
	endpoint := fmt.Sprintf("/api/v3/series/%d?deleteFiles=%t", id, deleteFiles)

	err := retry.Do(ctx, c.retryConfig, func() error {
		return c.delete(ctx, endpoint)
	}, errors.IsRetryable)

	if err != nil {
		return errors.ExternalServiceError("sonarr", "failed to delete series", err)
	}

	return nil
}

// Unmonitor clears the monitored flag so Sonarr stops grabbing the series
func (c *Client) Unmonitor(ctx context.Context, id int) error {
	endpoint := fmt.Sprintf("/api/v3/series/%d", id)

	series, err := retry.DoWithResult(ctx, c.retryConfig, func() (*Series, error) {
		return c.getSeriesByID(ctx, endpoint)
	}, errors.IsRetryable)
	if err != nil {
		return errors.ExternalServiceError("sonarr", "failed to fetch series", err)
	}

	if !series.Monitored {
		return nil
	}
	series.Monitored = false

	err = retry.Do(ctx, c.retryConfig, func() error {
		return c.putSeries(ctx, endpoint, series)
	}, errors.IsRetryable)
	if err != nil {
		return errors.ExternalServiceError("sonarr", "failed to unmonitor series", err)
	}
	return nil
}

func (c *Client) getSeriesByID(ctx context.Context, endpoint string) (*Series, error) {
	req, err := c.newRequest(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.NotFoundError("series", endpoint)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	var series Series
	if err := json.NewDecoder(resp.Body).Decode(&series); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &series, nil
}

func (c *Client) putSeries(ctx context.Context, endpoint string, series *Series) error {
	req, err := c.newRequest(ctx, "PUT", endpoint, series)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// MissingEpisodes lists aired episodes of a series that have no file on
// disk, the candidates for proactive redownload
func (c *Client) MissingEpisodes(ctx context.Context, seriesID int) ([]Episode, error) {
	episodes, err := retry.DoWithResult(ctx, c.retryConfig, func() ([]Episode, error) {
		return c.getEpisodes(ctx, fmt.Sprintf("/api/v3/episode?seriesId=%d", seriesID))
	}, errors.IsRetryable)

	if err != nil {
		return nil, errors.ExternalServiceError("sonarr", "failed to list episodes", err)
	}

	now := time.Now()
	var missing []Episode
	for _, episode := range episodes {
		if !episode.HasFile && !episode.AirDateUtc.IsZero() && episode.AirDateUtc.Before(now) {
			missing = append(missing, episode)
		}
	}
	return missing, nil
}

// MonitorAndSearchEpisode flags the episode monitored and queues a search
// command, the forward-looking half of proactive redownload.
func (c *Client) MonitorAndSearchEpisode(ctx context.Context, seriesID, season, episode int) error {
	episodes, err := retry.DoWithResult(ctx, c.retryConfig, func() ([]Episode, error) {
		return c.getEpisodes(ctx, fmt.Sprintf("/api/v3/episode?seriesId=%d", seriesID))
	}, errors.IsRetryable)

	if err != nil {
		return errors.ExternalServiceError("sonarr", "failed to list episodes", err)
	}

	var target *Episode
	for i := range episodes {
		if episodes[i].SeasonNumber == season && episodes[i].EpisodeNumber == episode {
			target = &episodes[i]
			break
		}
	}
	if target == nil {
		return errors.NotFoundError("episode", fmt.Sprintf("series %d S%02dE%02d", seriesID, season, episode))
	}

	if !target.Monitored {
		target.Monitored = true
		err = retry.Do(ctx, c.retryConfig, func() error {
			return c.putEpisode(ctx, fmt.Sprintf("/api/v3/episode/%d", target.ID), target)
		}, errors.IsRetryable)
		if err != nil {
			return errors.ExternalServiceError("sonarr", "failed to monitor episode", err)
		}
	}

	command := map[string]interface{}{
		"name":       "EpisodeSearch",
		"episodeIds": []int{target.ID},
	}
	err = retry.Do(ctx, c.retryConfig, func() error {
		return c.postCommand(ctx, command)
	}, errors.IsRetryable)
	if err != nil {
		return errors.ExternalServiceError("sonarr", "failed to queue episode search", err)
	}

	return nil
}

func (c *Client) getSeries(ctx context.Context, endpoint string) ([]Series, error) {
	req, err := c.newRequest(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	var series []Series
	if err := json.NewDecoder(resp.Body).Decode(&series); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return series, nil
}

func (c *Client) getEpisodes(ctx context.Context, endpoint string) ([]Episode, error) {
	req, err := c.newRequest(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	var episodes []Episode
	if err := json.NewDecoder(resp.Body).Decode(&episodes); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return episodes, nil
}

func (c *Client) putEpisode(ctx context.Context, endpoint string, episode *Episode) error {
	req, err := c.newRequest(ctx, "PUT", endpoint, episode)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

func (c *Client) postCommand(ctx context.Context, command map[string]interface{}) error {
	req, err := c.newRequest(ctx, "POST", "/api/v3/command", command)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

func (c *Client) delete(ctx context.Context, endpoint string) error {
	req, err := c.newRequest(ctx, "DELETE", endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errors.NotFoundError("series", endpoint)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body interface{}) (*http.Request, error) {
	url := c.baseURL + endpoint

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return req, nil
}
