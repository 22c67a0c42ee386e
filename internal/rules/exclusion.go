package rules

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/sybethiesant/flexerr/internal/errors"
	"github.com/sybethiesant/flexerr/internal/logger"
	"github.com/sybethiesant/flexerr/internal/mediaserver"
	"github.com/sybethiesant/flexerr/internal/models"
)

// ExclusionStore exposes the standing protection overrides
type ExclusionStore interface {
	Exclusions(ctx context.Context) ([]models.ExclusionEntry, error)
}

// ExclusionGuard checks items against standing protection overrides before
// any condition evaluation runs. A match short-circuits the rule entirely.
type ExclusionGuard struct {
	store  ExclusionStore
	logger *logger.Logger
}

// NewExclusionGuard creates an exclusion guard
func NewExclusionGuard(store ExclusionStore, log *logger.Logger) *ExclusionGuard {
	if log == nil {
		log = logger.Default()
	}
	return &ExclusionGuard{store: store, logger: log}
}

// Excluded reports whether any non-expired entry protects the item, along
// with the entry that matched. A store failure protects conservatively.
func (g *ExclusionGuard) Excluded(ctx context.Context, item *mediaserver.Item, now time.Time) (bool, *models.ExclusionEntry) {
	if g.store == nil {
		return false, nil
	}

	entries, err := g.store.Exclusions(ctx)
	if err != nil {
		g.logger.Error("failed to load exclusion entries, protecting item", err)
		return true, nil
	}

	for i := range entries {
		entry := &entries[i]
		if entry.Expired(now) {
			continue
		}
		if entryMatches(entry, item) {
			return true, entry
		}
	}
	return false, nil
}

func entryMatches(entry *models.ExclusionEntry, item *mediaserver.Item) bool {
	switch entry.Kind {
	case models.ExclusionKindManual:
		// Manual entries protect the item itself and anything under it
		return entry.Value == item.Key || entry.Value == item.ParentKey || entry.Value == item.ShowKey
	case models.ExclusionKindUser:
		for _, user := range item.WatchedBy {
			if strings.EqualFold(user, entry.Value) {
				return true
			}
		}
		return false
	case models.ExclusionKindCollection:
		return containsFold(item.Collections, entry.Value)
	case models.ExclusionKindGenre:
		return containsFold(item.Genres, entry.Value)
	case models.ExclusionKindTag:
		return containsFold(item.Labels, entry.Value)
	case models.ExclusionKindTitleRegex:
		re, err := regexp.Compile(entry.Value)
		if err != nil {
			// Invalid patterns never match; the API rejects them on write
			return false
		}
		return re.MatchString(item.Title)
	default:
		return false
	}
}

// ValidateTitlePattern rejects title regexes that would never match because
// they fail to compile. Called on exclusion writes so invalid patterns are
// surfaced to the operator instead of silently ignored.
func ValidateTitlePattern(pattern string) error {
	if _, err := regexp.Compile(pattern); err != nil {
		return errors.ValidationError("invalid title pattern: " + err.Error())
	}
	return nil
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}
