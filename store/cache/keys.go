package cache

import (
	"fmt"
	"strings"
)

// Namespace prefixes every cache key written by this module.
const Namespace = "tagnote"

// Cache categories, used both in keys and in hit/miss metrics.
const (
	CategoryStats   = "stats"
	CategorySuggest = "suggest"
)

// StatsKey is the per-user tag statistics key:
// {namespace}:stats:{userID}.
func StatsKey(userID string) string {
	return fmt.Sprintf("%s:%s:%s", Namespace, CategoryStats, userID)
}

// SuggestKey is the per-user tag suggestion key:
// {namespace}:suggest:{userID}:{queryTerm}:{limit}.
// The query term is case-folded so equivalent lookups share an entry.
func SuggestKey(userID, query string, limit int) string {
	return fmt.Sprintf("%s:%s:%s:%s:%d", Namespace, CategorySuggest, userID, strings.ToLower(query), limit)
}

// SuggestPattern matches every suggestion key of one user.
func SuggestPattern(userID string) string {
	return fmt.Sprintf("%s:%s:%s:*", Namespace, CategorySuggest, userID)
}
