package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/hrygo/tagnote/internal/errors"
	"github.com/hrygo/tagnote/internal/observability"
	"github.com/hrygo/tagnote/store"
	"github.com/hrygo/tagnote/store/cache"
	"github.com/hrygo/tagnote/store/db/sqlite"
	"github.com/hrygo/tagnote/store/test"
)

// Fixed hex tags give a known alphabetical order for the ordering contracts.
const (
	tagA = store.TagID("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	tagB = store.TagID("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
	tagC = store.TagID("cccccccc-cccc-cccc-cccc-cccccccccccc")
	tagD = store.TagID("dddddddd-dddd-dddd-dddd-dddddddddddd")
)

func mustRecord(t *testing.T, creator store.UserID, content string, tags ...store.TagID) *store.Record {
	t.Helper()
	r, err := store.NewRecord(creator, content, tags...)
	require.NoError(t, err)
	return r
}

func TestTagSetDedup(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)
	defer ts.Close()
	user := store.NewUserID()

	_, err := ts.CreateRecord(ctx, mustRecord(t, user, "first", tagA, tagB))
	require.NoError(t, err)

	// Same set in a different order, with a duplicate: still the same key.
	_, err = ts.CreateRecord(ctx, mustRecord(t, user, "second", tagB, tagA, tagB))
	require.Error(t, err)
	assert.Equal(t, serrors.CodeDuplicateRecord, serrors.CodeOf(err))

	// A different tag-set always succeeds.
	_, err = ts.CreateRecord(ctx, mustRecord(t, user, "third", tagA))
	require.NoError(t, err)

	count, err := ts.CountRecords(ctx, user)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestTagSetDedupOnUpdate(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)
	defer ts.Close()
	user := store.NewUserID()

	_, err := ts.CreateRecord(ctx, mustRecord(t, user, "first", tagA, tagB))
	require.NoError(t, err)
	second, err := ts.CreateRecord(ctx, mustRecord(t, user, "second", tagA))
	require.NoError(t, err)

	retagged, err := second.UpdateTags(tagB, tagA)
	require.NoError(t, err)
	_, err = ts.UpdateRecord(ctx, retagged)
	require.Error(t, err)
	assert.Equal(t, serrors.CodeDuplicateRecord, serrors.CodeOf(err))
}

func TestEmptyTagSetDedup(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)
	defer ts.Close()
	user := store.NewUserID()

	_, err := ts.CreateRecord(ctx, mustRecord(t, user, "untagged"))
	require.NoError(t, err)

	// The empty set is a tag-set like any other: at most one live holder.
	_, err = ts.CreateRecord(ctx, mustRecord(t, user, "also untagged"))
	require.Error(t, err)
	assert.Equal(t, serrors.CodeDuplicateRecord, serrors.CodeOf(err))
}

func TestDeleteFreesTagSet(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)
	defer ts.Close()
	user := store.NewUserID()

	first, err := ts.CreateRecord(ctx, mustRecord(t, user, "first", tagA))
	require.NoError(t, err)
	require.NoError(t, ts.DeleteRecord(ctx, &store.DeleteRecord{ID: first.ID, CreatorID: user}))

	// Hard delete: the tag-set is immediately reusable.
	_, err = ts.CreateRecord(ctx, mustRecord(t, user, "second", tagA))
	require.NoError(t, err)
}

func TestFindByTagsANDLogic(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)
	defer ts.Close()
	user := store.NewUserID()

	onlyA, err := ts.CreateRecord(ctx, mustRecord(t, user, "only a", tagA))
	require.NoError(t, err)
	ab, err := ts.CreateRecord(ctx, mustRecord(t, user, "a and b", tagA, tagB))
	require.NoError(t, err)
	abc, err := ts.CreateRecord(ctx, mustRecord(t, user, "a b c", tagA, tagB, tagC))
	require.NoError(t, err)

	page, err := ts.FindByTags(ctx, user, []store.TagID{tagA, tagB}, 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.TotalCount)

	ids := make(map[store.RecordID]bool)
	for _, r := range page.Records {
		ids[r.ID] = true
	}
	assert.True(t, ids[ab.ID])
	assert.True(t, ids[abc.ID])
	assert.False(t, ids[onlyA.ID])
}

func TestFindByTagSetExactMatch(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)
	defer ts.Close()
	user := store.NewUserID()

	ab, err := ts.CreateRecord(ctx, mustRecord(t, user, "a and b", tagA, tagB))
	require.NoError(t, err)
	_, err = ts.CreateRecord(ctx, mustRecord(t, user, "a b c", tagA, tagB, tagC))
	require.NoError(t, err)

	// Supersets do not match an exact-set lookup.
	list, err := ts.FindByTagSet(ctx, user, store.NewTagSet(tagB, tagA), nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ab.ID, list[0].ID)

	// Excluding the only holder empties the result, which is how the dedup
	// pre-check skips the record being updated.
	list, err = ts.FindByTagSet(ctx, user, store.NewTagSet(tagA, tagB), &ab.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCrossUserIsolation(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)
	defer ts.Close()
	alice := store.NewUserID()
	bob := store.NewUserID()

	// Identical tag ids for two users never collide.
	aliceRec, err := ts.CreateRecord(ctx, mustRecord(t, alice, "alice", tagA, tagB))
	require.NoError(t, err)
	_, err = ts.CreateRecord(ctx, mustRecord(t, bob, "bob", tagA, tagB))
	require.NoError(t, err)

	count, err := ts.CountRecords(ctx, bob)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	page, err := ts.FindByTags(ctx, bob, []store.TagID{tagA}, 0, 0)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, bob, page.Records[0].CreatorID)

	ok, err := ts.Exists(ctx, bob, aliceRec.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	// Mutating another user's record reports not-found, never success.
	stolen := *aliceRec
	stolen.CreatorID = bob
	_, err = ts.UpdateRecord(ctx, &stolen)
	require.Error(t, err)
	assert.Equal(t, serrors.CodeRecordNotFound, serrors.CodeOf(err))

	err = ts.DeleteRecord(ctx, &store.DeleteRecord{ID: aliceRec.ID, CreatorID: bob})
	require.Error(t, err)
	assert.Equal(t, serrors.CodeRecordNotFound, serrors.CodeOf(err))

	count, err = ts.CountRecords(ctx, alice)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestBatchCreateAtomicity(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)
	defer ts.Close()
	user := store.NewUserID()

	batch := []*store.Record{
		mustRecord(t, user, "one", tagA),
		mustRecord(t, user, "two", tagB),
		mustRecord(t, user, "three", tagB), // duplicates "two" within the batch
	}

	_, err := ts.CreateRecords(ctx, batch)
	require.Error(t, err)
	assert.Equal(t, serrors.CodeDuplicateRecord, serrors.CodeOf(err))

	// Full rollback: none of the batch was persisted.
	count, err := ts.CountRecords(ctx, user)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}

func TestBatchDeleteAtomicity(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)
	defer ts.Close()
	user := store.NewUserID()

	one, err := ts.CreateRecord(ctx, mustRecord(t, user, "one", tagA))
	require.NoError(t, err)
	two, err := ts.CreateRecord(ctx, mustRecord(t, user, "two", tagB))
	require.NoError(t, err)

	// One foreign id rolls back every deletion.
	err = ts.DeleteRecords(ctx, user, []store.RecordID{one.ID, two.ID, store.NewRecordID()})
	require.Error(t, err)
	assert.Equal(t, serrors.CodeRecordNotFound, serrors.CodeOf(err))

	count, err := ts.CountRecords(ctx, user)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	require.NoError(t, ts.DeleteRecords(ctx, user, []store.RecordID{one.ID, two.ID}))
	count, err = ts.CountRecords(ctx, user)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}

func TestTagStatisticsOrdering(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)
	defer ts.Close()
	user := store.NewUserID()

	// tagA:3, tagB:3, tagC:2, tagD:1 across three distinct tag-sets.
	_, err := ts.CreateRecord(ctx, mustRecord(t, user, "r1", tagA, tagB))
	require.NoError(t, err)
	_, err = ts.CreateRecord(ctx, mustRecord(t, user, "r2", tagA, tagB, tagC))
	require.NoError(t, err)
	_, err = ts.CreateRecord(ctx, mustRecord(t, user, "r3", tagA, tagB, tagC, tagD))
	require.NoError(t, err)

	stats, err := ts.GetTagStatistics(ctx, user)
	require.NoError(t, err)
	require.Len(t, stats, 4)

	// Count descending; equal counts ordered by tag name ascending.
	assert.Equal(t, string(tagA), stats[0].Tag)
	assert.EqualValues(t, 3, stats[0].Count)
	assert.Equal(t, string(tagB), stats[1].Tag)
	assert.EqualValues(t, 3, stats[1].Count)
	assert.Equal(t, string(tagC), stats[2].Tag)
	assert.EqualValues(t, 2, stats[2].Count)
	assert.Equal(t, string(tagD), stats[3].Tag)
	assert.EqualValues(t, 1, stats[3].Count)
}

func TestTagStatisticsCacheCoherence(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)
	defer ts.Close()
	user := store.NewUserID()

	_, err := ts.CreateRecord(ctx, mustRecord(t, user, "r1", tagA))
	require.NoError(t, err)

	stats, err := ts.GetTagStatistics(ctx, user)
	require.NoError(t, err)
	require.Len(t, stats, 1)

	// Cached now; a second read returns the same view.
	stats, err = ts.GetTagStatistics(ctx, user)
	require.NoError(t, err)
	require.Len(t, stats, 1)

	// Any tag-affecting write invalidates; the next read reflects it.
	_, err = ts.CreateRecord(ctx, mustRecord(t, user, "r2", tagA, tagB))
	require.NoError(t, err)

	stats, err = ts.GetTagStatistics(ctx, user)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, string(tagA), stats[0].Tag)
	assert.EqualValues(t, 2, stats[0].Count)
}

func TestTagSuggestions(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)
	defer ts.Close()
	user := store.NewUserID()

	_, err := ts.CreateRecord(ctx, mustRecord(t, user, "r1", tagA, tagB))
	require.NoError(t, err)
	_, err = ts.CreateRecord(ctx, mustRecord(t, user, "r2", tagA))
	require.NoError(t, err)

	suggestions, err := ts.ListTagSuggestions(ctx, &store.FindTagSuggestion{
		CreatorID: user,
		Query:     "aaaa",
	})
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, string(tagA), suggestions[0].Tag)
	assert.EqualValues(t, 2, suggestions[0].Count)

	// No prefix: every tag, ordered like statistics.
	suggestions, err = ts.ListTagSuggestions(ctx, &store.FindTagSuggestion{CreatorID: user})
	require.NoError(t, err)
	require.Len(t, suggestions, 2)
	assert.Equal(t, string(tagA), suggestions[0].Tag)

	// Suggestion caches are invalidated by writes too.
	_, err = ts.CreateRecord(ctx, mustRecord(t, user, "r3", tagB, tagC))
	require.NoError(t, err)
	suggestions, err = ts.ListTagSuggestions(ctx, &store.FindTagSuggestion{CreatorID: user})
	require.NoError(t, err)
	assert.Len(t, suggestions, 3)
}

// flakyCacheService wraps a working cache with a switchable outage: while
// failing, reads miss and writes/invalidations error, without touching the
// inner cache.
type flakyCacheService struct {
	inner cache.Service

	mu      sync.Mutex
	failing bool
}

func (f *flakyCacheService) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *flakyCacheService) isFailing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failing
}

func (f *flakyCacheService) Get(ctx context.Context, key string) ([]byte, bool) {
	if f.isFailing() {
		return nil, false
	}
	return f.inner.Get(ctx, key)
}

func (f *flakyCacheService) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.isFailing() {
		return errors.New("cache backend down")
	}
	return f.inner.Set(ctx, key, value, ttl)
}

func (f *flakyCacheService) Invalidate(ctx context.Context, pattern string) error {
	if f.isFailing() {
		return errors.New("cache backend down")
	}
	return f.inner.Invalidate(ctx, pattern)
}

func (f *flakyCacheService) Close() error {
	return f.inner.Close()
}

func newFlakyCachedStore(ctx context.Context, t *testing.T) (*store.Store, *flakyCacheService) {
	t.Helper()
	p := test.NewTestingProfile(t)
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	require.NoError(t, driver.Migrate(ctx))

	flaky := &flakyCacheService{inner: cache.NewMemoryService(cache.DefaultMemoryConfig())}
	return store.NewWithCache(driver, p, flaky), flaky
}

func TestCacheOutageDuringMutation(t *testing.T) {
	ctx := context.Background()
	ts, flaky := newFlakyCachedStore(ctx, t)
	defer ts.Close()
	user := store.NewUserID()

	_, err := ts.CreateRecord(ctx, mustRecord(t, user, "r1", tagA))
	require.NoError(t, err)

	// Populate the cache while it is healthy.
	stats, err := ts.GetTagStatistics(ctx, user)
	require.NoError(t, err)
	require.Len(t, stats, 1)

	// The cache goes down mid-flight: mutations must still succeed even
	// though their invalidations error.
	flaky.setFailing(true)
	created, err := ts.CreateRecord(ctx, mustRecord(t, user, "r2", tagA, tagB))
	require.NoError(t, err)

	// Reads during the outage degrade to a recompute, never a stale or
	// failed read.
	stats, err = ts.GetTagStatistics(ctx, user)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.EqualValues(t, 2, stats[0].Count)

	require.NoError(t, ts.DeleteRecord(ctx, &store.DeleteRecord{ID: created.ID, CreatorID: user}))

	// After the cache heals, the next tag-affecting write drops whatever
	// entry survived the outage; the read after it is fresh.
	flaky.setFailing(false)
	_, err = ts.CreateRecord(ctx, mustRecord(t, user, "r3", tagC))
	require.NoError(t, err)

	stats, err = ts.GetTagStatistics(ctx, user)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, string(tagA), stats[0].Tag)
	assert.Equal(t, string(tagC), stats[1].Tag)
}

func TestBatchCreateInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)
	defer ts.Close()
	user := store.NewUserID()

	_, err := ts.CreateRecord(ctx, mustRecord(t, user, "r1", tagA))
	require.NoError(t, err)

	stats, err := ts.GetTagStatistics(ctx, user)
	require.NoError(t, err)
	require.Len(t, stats, 1)

	// A committed batch drops the creator's cached statistics.
	_, err = ts.CreateRecords(ctx, []*store.Record{
		mustRecord(t, user, "r2", tagA, tagB),
		mustRecord(t, user, "r3", tagC),
	})
	require.NoError(t, err)

	stats, err = ts.GetTagStatistics(ctx, user)
	require.NoError(t, err)
	require.Len(t, stats, 3)
	assert.Equal(t, string(tagA), stats[0].Tag)
	assert.EqualValues(t, 2, stats[0].Count)
}

func TestCacheMetricsThroughReads(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)
	defer ts.Close()
	user := store.NewUserID()

	metrics := observability.GlobalCacheMetrics()
	metrics.Reset()

	_, err := ts.CreateRecord(ctx, mustRecord(t, user, "r1", tagA))
	require.NoError(t, err)

	// First read misses and populates, second hits.
	_, err = ts.GetTagStatistics(ctx, user)
	require.NoError(t, err)
	_, err = ts.GetTagStatistics(ctx, user)
	require.NoError(t, err)

	assert.EqualValues(t, 1, metrics.Misses("stats"))
	assert.EqualValues(t, 1, metrics.Hits("stats"))

	snapshot := metrics.Snapshot()
	assert.EqualValues(t, 1, snapshot["stats:hits"])
	assert.EqualValues(t, 1, snapshot["stats:misses"])
}

func TestPagination(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)
	defer ts.Close()
	user := store.NewUserID()

	tags := []store.TagID{tagA, tagB, tagC, tagD}
	for i, tag := range tags {
		_, err := ts.CreateRecord(ctx, mustRecord(t, user, "record", tag))
		require.NoError(t, err, "record %d", i)
	}

	page, err := ts.ListRecords(ctx, &store.FindRecord{CreatorID: user, Limit: 3})
	require.NoError(t, err)
	assert.Len(t, page.Records, 3)
	assert.EqualValues(t, 4, page.TotalCount)
	assert.True(t, page.HasMore)

	page, err = ts.ListRecords(ctx, &store.FindRecord{CreatorID: user, Limit: 3, Offset: 3})
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.EqualValues(t, 4, page.TotalCount)
	assert.False(t, page.HasMore)
}

func TestGetRecordByID(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)
	defer ts.Close()
	user := store.NewUserID()

	created, err := ts.CreateRecord(ctx, mustRecord(t, user, "hello", tagA))
	require.NoError(t, err)

	got, err := ts.GetRecordByID(ctx, user, string(created.ID))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "hello", got.Content)
	assert.True(t, got.TagIDs.Equal(store.NewTagSet(tagA)))

	// A malformed id cannot name any record: not-found, not an error.
	got, err = ts.GetRecordByID(ctx, user, "not-a-uuid")
	require.NoError(t, err)
	assert.Nil(t, got)

	// A well-formed but absent id is also not-found.
	got, err = ts.GetRecordByID(ctx, user, string(store.NewRecordID()))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestValidationFailures(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)
	defer ts.Close()
	user := store.NewUserID()

	_, err := store.NewRecord(user, "")
	require.Error(t, err)
	assert.Equal(t, serrors.CodeValidationFailure, serrors.CodeOf(err))

	r := mustRecord(t, user, "ok", tagA)
	r.Content = ""
	_, err = ts.CreateRecord(ctx, r)
	require.Error(t, err)
	assert.Equal(t, serrors.CodeValidationFailure, serrors.CodeOf(err))

	_, err = ts.ListTagSuggestions(ctx, &store.FindTagSuggestion{
		CreatorID: user,
		Query:     string(make([]byte, store.MaxSuggestionQueryBytes+1)),
	})
	require.Error(t, err)
	assert.Equal(t, serrors.CodeValidationFailure, serrors.CodeOf(err))
}
