// Package orchestrator defines the contract to the external download
// managers that acquire and remove media files. Radarr serves movies,
// Sonarr serves series; Service routes between them.
package orchestrator

import (
	"context"

	"github.com/sybethiesant/flexerr/internal/errors"
	"github.com/sybethiesant/flexerr/internal/orchestrator/radarr"
	"github.com/sybethiesant/flexerr/internal/orchestrator/sonarr"
)

// Record is a normalized view of an orchestrator entry for a movie or series
type Record struct {
	ID         int
	Title      string
	ExternalID int
	SizeOnDisk int64
	Monitored  bool
}

// Adapter is the download-orchestrator contract consumed by the engine
type Adapter interface {
	// FindMovie looks up a movie record by TMDB identifier
	FindMovie(ctx context.Context, tmdbID int) (*Record, error)

	// FindSeries looks up a series record by TVDB identifier
	FindSeries(ctx context.Context, tvdbID int) (*Record, error)

	// DeleteMovie removes a movie, optionally deleting its files
	DeleteMovie(ctx context.Context, id int, deleteFiles bool) error

	// DeleteSeries removes a series, optionally deleting its files
	DeleteSeries(ctx context.Context, id int, deleteFiles bool) error

	// MonitorAndSearchEpisode flags an episode monitored and triggers a search
	MonitorAndSearchEpisode(ctx context.Context, seriesID, season, episode int) error

	// MissingEpisodes lists aired episodes of a series without a file on disk
	MissingEpisodes(ctx context.Context, seriesID int) ([]EpisodeRef, error)

	// UnmonitorMovie clears a movie's monitored flag
	UnmonitorMovie(ctx context.Context, id int) error

	// UnmonitorSeries clears a series' monitored flag
	UnmonitorSeries(ctx context.Context, id int) error
}

// EpisodeRef identifies one episode within an orchestrator series
type EpisodeRef struct {
	Season  int
	Episode int
}

// Service implements Adapter over Radarr and Sonarr clients. Either client
// may be nil when the corresponding integration is disabled; calls against a
// missing client return a not-found error so the engine treats the link as
// unresolvable rather than fatal.
type Service struct {
	radarr *radarr.Client
	sonarr *sonarr.Client
}

// NewService creates an orchestrator service from the configured clients
func NewService(radarrClient *radarr.Client, sonarrClient *sonarr.Client) *Service {
	return &Service{
		radarr: radarrClient,
		sonarr: sonarrClient,
	}
}

// FindMovie looks up a movie record by TMDB identifier
func (s *Service) FindMovie(ctx context.Context, tmdbID int) (*Record, error) {
	if s.radarr == nil {
		return nil, errors.NotFoundError("movie orchestrator", "disabled")
	}

	movie, err := s.radarr.LookupByTMDBID(ctx, tmdbID)
	if err != nil {
		return nil, err
	}

	return &Record{
		ID:         movie.ID,
		Title:      movie.Title,
		ExternalID: movie.TMDBID,
		SizeOnDisk: movie.SizeOnDisk,
		Monitored:  movie.Monitored,
	}, nil
}

// FindSeries looks up a series record by TVDB identifier
func (s *Service) FindSeries(ctx context.Context, tvdbID int) (*Record, error) {
	if s.sonarr == nil {
		return nil, errors.NotFoundError("series orchestrator", "disabled")
	}

	series, err := s.sonarr.LookupByTVDBID(ctx, tvdbID)
	if err != nil {
		return nil, err
	}

	return &Record{
		ID:         series.ID,
		Title:      series.Title,
		ExternalID: series.TvdbID,
		SizeOnDisk: series.SizeOnDisk,
		Monitored:  series.Monitored,
	}, nil
}

// DeleteMovie removes a movie, optionally deleting its files
func (s *Service) DeleteMovie(ctx context.Context, id int, deleteFiles bool) error {
	if s.radarr == nil {
		return errors.NotFoundError("movie orchestrator", "disabled")
	}
	return s.radarr.DeleteMovie(ctx, id, deleteFiles)
}

// DeleteSeries removes a series, optionally deleting its files
func (s *Service) DeleteSeries(ctx context.Context, id int, deleteFiles bool) error {
	if s.sonarr == nil {
		return errors.NotFoundError("series orchestrator", "disabled")
	}
	return s.sonarr.DeleteSeries(ctx, id, deleteFiles)
}

// MonitorAndSearchEpisode flags an episode monitored and triggers a search
func (s *Service) MonitorAndSearchEpisode(ctx context.Context, seriesID, season, episode int) error {
	if s.sonarr == nil {
		return errors.NotFoundError("series orchestrator", "disabled")
	}
	return s.sonarr.MonitorAndSearchEpisode(ctx, seriesID, season, episode)
}

// MissingEpisodes lists aired episodes of a series without a file on disk
func (s *Service) MissingEpisodes(ctx context.Context, seriesID int) ([]EpisodeRef, error) {
	if s.sonarr == nil {
		return nil, errors.NotFoundError("series orchestrator", "disabled")
	}

	episodes, err := s.sonarr.MissingEpisodes(ctx, seriesID)
	if err != nil {
		return nil, err
	}

	refs := make([]EpisodeRef, 0, len(episodes))
	for _, episode := range episodes {
		refs = append(refs, EpisodeRef{Season: episode.SeasonNumber, Episode: episode.EpisodeNumber})
	}
	return refs, nil
}

// UnmonitorMovie clears a movie's monitored flag
func (s *Service) UnmonitorMovie(ctx context.Context, id int) error {
	if s.radarr == nil {
		return errors.NotFoundError("movie orchestrator", "disabled")
	}
	return s.radarr.Unmonitor(ctx, id)
}

// UnmonitorSeries clears a series' monitored flag
func (s *Service) UnmonitorSeries(ctx context.Context, id int) error {
	if s.sonarr == nil {
		return errors.NotFoundError("series orchestrator", "disabled")
	}
	return s.sonarr.Unmonitor(ctx, id)
}
