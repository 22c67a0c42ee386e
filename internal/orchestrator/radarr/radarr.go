package radarr

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

// Client represents a Radarr API client
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	retryConfig retry.Config
}

// Config holds Radarr client configuration
type Config struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	RetryConfig retry.Config
}

// Movie represents a Radarr movie
type Movie struct {
	ID               int       `json:"id"`
	Title            string    `json:"title"`
	Year             int       `json:"year"`
	TMDBID           int       `json:"tmdbId"`
	Path             string    `json:"path"`
	Monitored        bool      `json:"monitored"`
	HasFile          bool      `json:"hasFile"`
	SizeOnDisk       int64     `json:"sizeOnDisk"`
	Added            time.Time `json:"added"`
	QualityProfileID int       `json:"qualityProfileId"`
}

// New creates a new Radarr client
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

// LookupByTMDBID retrieves the Radarr movie linked to a TMDB identifier.
// Returns a not-found error when Radarr does not manage the movie.
func (c *Client) LookupByTMDBID(ctx context.Context, tmdbID int) (*Movie, error) {
	endpoint := fmt.Sprintf("/api/v3/movie?tmdbId=%d", tmdbID)

	movies, err := retry.DoWithResult(ctx, c.retryConfig, func() ([]Movie, error) {
		return c.getMovies(ctx, endpoint)
	}, errors.IsRetryable)

	if err != nil {
		return nil, errors.ExternalServiceError("radarr", "failed to look up movie", err)
	}

	if len(movies) == 0 {
		return nil, errors.NotFoundError("movie", fmt.Sprintf("tmdb:%d", tmdbID))
	}

	return &movies[0], nil
}

// DeleteMovie removes a movie from Radarr, optionally deleting its files
func (c *Client) DeleteMovie(ctx context.Context, id int, deleteFiles bool) error {
	endpoint := fmt.Sprintf("/api/v3/movie/%d?deleteFiles=%t&addImportExclusion=false", id, deleteFiles)

	err := retry.Do(ctx, c.retryConfig, func() error {
		return c.delete(ctx, endpoint)
	}, errors.IsRetryable)

	if err != nil {
		return errors.ExternalServiceError("radarr", "failed to delete movie", err)
	}

	return nil
}

// Unmonitor clears the monitored flag so Radarr stops upgrading the movie
func (c *Client) Unmonitor(ctx context.Context, id int) error {
	endpoint := fmt.Sprintf("/api/v3/movie/%d", id)

	movie, err := retry.DoWithResult(ctx, c.retryConfig, func() (*Movie, error) {
		return c.getMovie(ctx, endpoint)
	}, errors.IsRetryable)
	if err != nil {
		return errors.ExternalServiceError("radarr", "failed to fetch movie", err)
	}

	if !movie.Monitored {
		return nil
	}
	movie.Monitored = false

	err = retry.Do(ctx, c.retryConfig, func() error {
		return c.putMovie(ctx, endpoint, movie)
	}, errors.IsRetryable)
	if err != nil {
		return errors.ExternalServiceError("radarr", "failed to unmonitor movie", err)
	}
	return nil
}

func (c *Client) getMovie(ctx context.Context, endpoint string) (*Movie, error) {
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
		return nil, errors.NotFoundError("movie", endpoint)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	var movie Movie
	if err := json.NewDecoder(resp.Body).Decode(&movie); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &movie, nil
}

func (c *Client) putMovie(ctx context.Context, endpoint string, movie *Movie) error {
	req, err := c.newRequest(ctx, "PUT", endpoint, movie)
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

func (c *Client) getMovies(ctx context.Context, endpoint string) ([]Movie, error) {
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

	var movies []Movie
	if err := json.NewDecoder(resp.Body).Decode(&movies); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return movies, nil
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
		return errors.NotFoundError("movie", endpoint)
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
