package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	serrors "github.com/hrygo/tagnote/internal/errors"
	"github.com/hrygo/tagnote/internal/observability"
	"github.com/hrygo/tagnote/internal/profile"
	"github.com/hrygo/tagnote/store/cache"
)

// Store provides access to all records. It fronts a Driver with a
// best-effort cache over the two expensive read paths (tag statistics and
// tag-prefix suggestions). The driver stays cache-free, so backend logic is
// testable without a cache; all cache traffic happens here, strictly after
// the driver call has returned.
type Store struct {
	profile *profile.Profile
	driver  Driver

	cache   cache.Service // nil when caching is disabled
	metrics *observability.CacheMetrics

	statsTTL   time.Duration
	suggestTTL time.Duration
}

// New creates a new instance of Store.
func New(driver Driver, p *profile.Profile) *Store {
	s := &Store{
		driver:     driver,
		profile:    p,
		metrics:    observability.GlobalCacheMetrics(),
		statsTTL:   p.StatsTTL,
		suggestTTL: p.SuggestTTL,
	}
	if !p.CacheDisabled {
		s.cache = cache.NewFromEnv(cache.MemoryConfig{
			Capacity:   p.CacheCapacity,
			DefaultTTL: p.StatsTTL,
		})
	}
	return s
}

// NewWithCache creates a Store with an explicit cache service (nil disables
// caching). Used by tests and by callers composing their own cache stack.
func NewWithCache(driver Driver, p *profile.Profile, c cache.Service) *Store {
	return &Store{
		driver:     driver,
		profile:    p,
		cache:      c,
		metrics:    observability.GlobalCacheMetrics(),
		statsTTL:   p.StatsTTL,
		suggestTTL: p.SuggestTTL,
	}
}

// GetDriver returns the underlying driver.
func (s *Store) GetDriver() Driver {
	return s.driver
}

// Close releases the cache and the driver.
func (s *Store) Close() error {
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			slog.Warn("failed to close cache", "error", err)
		}
	}
	return s.driver.Close()
}

// RecordPage is one page of a record listing.
type RecordPage struct {
	Records    []*Record
	TotalCount int64
	HasMore    bool
}

// GetRecord returns the single record matching find, or nil when absent.
// Absence is not an error.
func (s *Store) GetRecord(ctx context.Context, find *FindRecord) (*Record, error) {
	f := *find
	f.Limit = 1
	f.Offset = 0
	list, err := s.driver.ListRecords(ctx, &f)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// GetRecordByID looks up one record of the user by its raw identifier.
// A malformed identifier cannot name any record, so it reports not-found
// rather than an error.
func (s *Store) GetRecordByID(ctx context.Context, creator UserID, rawID string) (*Record, error) {
	id, err := ParseRecordID(rawID)
	if err != nil {
		return nil, nil
	}
	return s.GetRecord(ctx, &FindRecord{ID: &id, CreatorID: creator})
}

// ListRecords returns one page of the user's records plus the total count.
func (s *Store) ListRecords(ctx context.Context, find *FindRecord) (*RecordPage, error) {
	records, err := s.driver.ListRecords(ctx, find)
	if err != nil {
		return nil, err
	}
	total, err := s.driver.CountRecords(ctx, &FindRecord{
		CreatorID:   find.CreatorID,
		TagIDs:      find.TagIDs,
		ExactTagSet: find.ExactTagSet,
		ExcludeID:   find.ExcludeID,
	})
	if err != nil {
		return nil, err
	}
	return &RecordPage{
		Records:    records,
		TotalCount: total,
		HasMore:    int64(find.Offset+len(records)) < total,
	}, nil
}

// FindByTags returns the page of records whose tag-set contains every given
// tag (AND logic).
func (s *Store) FindByTags(ctx context.Context, creator UserID, tags []TagID, limit, offset int) (*RecordPage, error) {
	filtered, err := filterTagIDs(tags)
	if err != nil {
		return nil, err
	}
	return s.ListRecords(ctx, &FindRecord{
		CreatorID: creator,
		TagIDs:    filtered,
		Limit:     limit,
		Offset:    offset,
	})
}

// FindByTagSet returns the records whose tag-set equals the given set
// precisely. exclude, when non-nil, drops that record from the result.
func (s *Store) FindByTagSet(ctx context.Context, creator UserID, tags TagSet, exclude *RecordID) ([]*Record, error) {
	set := NewTagSet(tags...)
	return s.driver.ListRecords(ctx, &FindRecord{
		CreatorID:   creator,
		ExactTagSet: &set,
		ExcludeID:   exclude,
	})
}

// CreateRecord validates and persists a new record. Fails with
// DuplicateRecord when another live record of the user carries the same
// tag-set.
func (s *Store) CreateRecord(ctx context.Context, create *Record) (*Record, error) {
	if err := create.Validate(); err != nil {
		return nil, err
	}
	created, err := s.driver.CreateRecord(ctx, create)
	if err != nil {
		return nil, err
	}
	s.invalidateTagCaches(ctx, create.CreatorID)
	return created, nil
}

// UpdateRecord persists a modified record. Fails with RecordNotFound when no
// live record with that id belongs to the user.
func (s *Store) UpdateRecord(ctx context.Context, update *Record) (*Record, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	updated, err := s.driver.UpdateRecord(ctx, update)
	if err != nil {
		return nil, err
	}
	s.invalidateTagCaches(ctx, update.CreatorID)
	return updated, nil
}

// DeleteRecord removes a record. The tag-set becomes immediately reusable.
func (s *Store) DeleteRecord(ctx context.Context, delete *DeleteRecord) error {
	if err := s.driver.DeleteRecord(ctx, delete); err != nil {
		return err
	}
	s.invalidateTagCaches(ctx, delete.CreatorID)
	return nil
}

// CreateRecords persists a batch of records in one transaction. Any single
// failure rolls back the whole batch.
func (s *Store) CreateRecords(ctx context.Context, creates []*Record) ([]*Record, error) {
	for _, r := range creates {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	created, err := s.driver.CreateRecords(ctx, creates)
	if err != nil {
		return nil, err
	}
	// Drivers admit only single-creator batches, so one invalidation covers
	// the whole batch.
	if len(creates) > 0 {
		s.invalidateTagCaches(ctx, creates[0].CreatorID)
	}
	return created, nil
}

// DeleteRecords removes a batch of the user's records in one transaction.
// A single missing or foreign id rolls back all deletions.
func (s *Store) DeleteRecords(ctx context.Context, creator UserID, ids []RecordID) error {
	if err := s.driver.DeleteRecords(ctx, creator, ids); err != nil {
		return err
	}
	s.invalidateTagCaches(ctx, creator)
	return nil
}

// CountRecords returns the number of the user's live records.
func (s *Store) CountRecords(ctx context.Context, creator UserID) (int64, error) {
	return s.driver.CountRecords(ctx, &FindRecord{CreatorID: creator})
}

// Exists reports whether the user owns a live record with the given id.
func (s *Store) Exists(ctx context.Context, creator UserID, id RecordID) (bool, error) {
	n, err := s.driver.CountRecords(ctx, &FindRecord{ID: &id, CreatorID: creator})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetTagStatistics returns the user's tag frequencies, ordered by count
// descending with ties broken by tag name ascending. Read-through cached.
func (s *Store) GetTagStatistics(ctx context.Context, creator UserID) ([]*TagStatistic, error) {
	key := cache.StatsKey(string(creator))

	var cached []*TagStatistic
	if s.cacheGet(ctx, cache.CategoryStats, key, &cached) {
		return cached, nil
	}

	stats, err := s.driver.GetTagStatistics(ctx, creator)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, key, stats, s.statsTTL)
	return stats, nil
}

// ListTagSuggestions returns tag-prefix completion candidates for the user,
// ordered like statistics. Read-through cached per (user, query, limit).
func (s *Store) ListTagSuggestions(ctx context.Context, find *FindTagSuggestion) ([]*TagSuggestion, error) {
	if len(find.Query) > MaxSuggestionQueryBytes {
		return nil, serrors.ValidationFailure("suggestion query too long")
	}
	f := *find
	if f.Limit <= 0 {
		f.Limit = DefaultSuggestionLimit
	}
	key := cache.SuggestKey(string(f.CreatorID), f.Query, f.Limit)

	var cached []*TagSuggestion
	if s.cacheGet(ctx, cache.CategorySuggest, key, &cached) {
		return cached, nil
	}

	suggestions, err := s.driver.ListTagSuggestions(ctx, &f)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, key, suggestions, s.suggestTTL)
	return suggestions, nil
}

// cacheGet probes the cache and decodes into out. Every failure path counts
// as a miss; concurrent repopulation after a miss is tolerated (last writer
// wins, staleness bounded by TTL and invalidation).
func (s *Store) cacheGet(ctx context.Context, category, key string, out any) bool {
	if s.cache == nil {
		return false
	}
	data, ok := s.cache.Get(ctx, key)
	if !ok {
		s.metrics.RecordMiss(category)
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		slog.Warn("discarding undecodable cache entry", "key", key, "error", err)
		s.metrics.RecordMiss(category)
		return false
	}
	s.metrics.RecordHit(category)
	return true
}

func (s *Store) cacheSet(ctx context.Context, key string, value any, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		slog.Warn("failed to marshal cache value", "key", key, "error", err)
		return
	}
	if err := s.cache.Set(ctx, key, data, ttl); err != nil {
		cacheErr := serrors.CacheUnavailable("cache set failed", err)
		logCacheDegraded(ctx, cacheErr, slog.String("key", key))
	}
}

// logCacheDegraded reports a swallowed cache failure, through the request
// context when the caller attached one.
func logCacheDegraded(ctx context.Context, err error, attrs ...slog.Attr) {
	if reqCtx, ok := observability.FromContext(ctx); ok {
		reqCtx.Warn("cache degraded", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	args := make([]any, 0, len(attrs)+1)
	for _, a := range attrs {
		args = append(args, a)
	}
	slog.Warn("cache degraded", append(args, "error", err)...)
}

// invalidateTagCaches drops the user's statistics entry and every suggestion
// entry after a tag-affecting write has committed. Cache failures are logged
// and swallowed; the next read recomputes from the backend.
func (s *Store) invalidateTagCaches(ctx context.Context, creator UserID) {
	if s.cache == nil {
		return
	}
	user := string(creator)
	if err := s.cache.Invalidate(ctx, cache.StatsKey(user)); err != nil {
		cacheErr := serrors.CacheUnavailable("stats invalidation failed", err)
		logCacheDegraded(ctx, cacheErr, slog.String("user", user))
	}
	if err := s.cache.Invalidate(ctx, cache.SuggestPattern(user)); err != nil {
		cacheErr := serrors.CacheUnavailable("suggestion invalidation failed", err)
		logCacheDegraded(ctx, cacheErr, slog.String("user", user))
	}
}

// filterTagIDs validates and caps a free-form tag id list before it reaches
// a search predicate.
func filterTagIDs(tags []TagID) ([]TagID, error) {
	if len(tags) > MaxTagsPerRecord {
		return nil, serrors.ValidationFailure("too many tags in query")
	}
	out := make([]TagID, 0, len(tags))
	for _, t := range tags {
		id, err := ParseTagID(string(t))
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
