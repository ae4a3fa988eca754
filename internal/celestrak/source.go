package celestrak

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/art-injener/satscan-go/internal/tracker"
)

// ErrLoadFailed ошибка, когда TLE не получен ни с Celestrak, ни из кеша.
var ErrLoadFailed = errors.New("failed to load TLE")

// Origin откуда получен TLE.
type Origin string

// Источники TLE.
const (
	OriginCelestrak  Origin = "celestrak"
	OriginCache      Origin = "cache"
	OriginStaleCache Origin = "stale_cache"
)

// Source загружает TLE с Celestrak с файловым кешем.
type Source struct {
	client *Client
	cache  *Cache
	logger *slog.Logger
}

// NewSource создаёт Source. cache может быть nil: тогда кеш не используется.
func NewSource(client *Client, cache *Cache, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}

	return &Source{client: client, cache: cache, logger: logger}
}

// Fetch загружает TLE по NORAD ID.
// Стратегия: свежий кеш, затем Celestrak, при ошибке fallback на устаревший кеш.
// После успешной загрузки с Celestrak сохраняем в кеш.
func (s *Source) Fetch(ctx context.Context, noradID int) (*tracker.TLE, Origin, error) {
	var (
		cached   *tracker.TLE
		cacheErr error = ErrCacheMiss
	)

	if s.cache != nil {
		tle, updatedAt, err := s.cache.Load(noradID)
		cacheErr = err
		if err == nil {
			if s.cache.IsFresh(updatedAt) {
				s.logger.DebugContext(ctx, "loaded TLE from cache", "norad_id", noradID)
				return tle, OriginCache, nil
			}
			cached = tle
		}
	}

	tle, err := s.client.FetchByNoradID(ctx, noradID)
	if err != nil {
		if cached == nil {
			s.logger.WarnContext(ctx, "failed to load TLE",
				"norad_id", noradID,
				"error", err,
				"cache_error", cacheErr,
			)
			return nil, "", fmt.Errorf("%w: NORAD ID %d (celestrak and cache both failed): %w", ErrLoadFailed, noradID, err)
		}

		s.logger.WarnContext(ctx, "failed to fetch from Celestrak, using stale cache",
			"norad_id", noradID,
			"epoch", cached.Epoch,
			"error", err,
		)
		return cached, OriginStaleCache, nil
	}

	if s.cache != nil {
		if saveErr := s.cache.Save(tle); saveErr != nil {
			s.logger.WarnContext(ctx, "failed to save to cache",
				"norad_id", noradID,
				"error", saveErr,
			)
		}
	}

	s.logger.InfoContext(ctx, "loaded TLE from Celestrak",
		"norad_id", noradID,
		"name", tle.Name,
		"epoch", tle.Epoch,
	)

	return tle, OriginCelestrak, nil
}
