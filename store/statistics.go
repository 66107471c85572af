package store

// TagStatistic is one row of the per-user tag frequency aggregation: the
// number of the user's live records carrying the tag. Derived, never
// persisted.
type TagStatistic struct {
	Tag   string `json:"tag"`
	Count int64  `json:"count"`
}

// TagSuggestion is one tag-prefix completion candidate with its usage count.
type TagSuggestion struct {
	Tag   string `json:"tag"`
	Count int64  `json:"count"`
}

// FindTagSuggestion is the find condition for tag-prefix suggestions.
// Query is matched as a case-folded prefix against the user's live tags.
type FindTagSuggestion struct {
	CreatorID UserID
	Query     string
	Limit     int
}

// DefaultSuggestionLimit caps suggestion results when no limit is given.
const DefaultSuggestionLimit = 10

// MaxSuggestionQueryBytes caps the free-form suggestion query term before it
// reaches a search predicate.
const MaxSuggestionQueryBytes = 256
