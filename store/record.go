package store

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	serrors "github.com/hrygo/tagnote/internal/errors"
)

const (
	// MaxContentBytes is the upper bound on record content length.
	MaxContentBytes = 8 * 1024
	// MaxTagsPerRecord caps the number of tags a single record may carry.
	// The same cap applies to tag arrays in search predicates.
	MaxTagsPerRecord = 32
)

// RecordID identifies a record. UUID-shaped, equality by value.
type RecordID string

// TagID identifies a tag. UUID-shaped, opaque, already normalized upstream.
type TagID string

// UserID identifies the owning user of a record.
type UserID string

func (id RecordID) String() string { return string(id) }
func (id TagID) String() string    { return string(id) }
func (id UserID) String() string   { return string(id) }

// NewRecordID generates a new random record identifier.
func NewRecordID() RecordID {
	return RecordID(uuid.NewString())
}

// NewTagID generates a new random tag identifier.
func NewTagID() TagID {
	return TagID(uuid.NewString())
}

// NewUserID generates a new random user identifier.
func NewUserID() UserID {
	return UserID(uuid.NewString())
}

// parseUUID validates a strict UUID shape and returns the canonical
// lowercase form. Rejecting anything else here is what keeps raw
// identifiers out of SQL.
func parseUUID(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	// uuid.Parse accepts urn: and braced forms; require the plain 36-char shape.
	if len(s) != 36 {
		return "", serrors.InvalidIdentifier("identifier must be a plain 36-character uuid")
	}
	return u.String(), nil
}

// ParseRecordID parses and validates a record identifier.
func ParseRecordID(s string) (RecordID, error) {
	v, err := parseUUID(s)
	if err != nil {
		return "", serrors.InvalidIdentifier("invalid record id: " + s)
	}
	return RecordID(v), nil
}

// ParseTagID parses and validates a tag identifier.
func ParseTagID(s string) (TagID, error) {
	v, err := parseUUID(s)
	if err != nil {
		return "", serrors.InvalidIdentifier("invalid tag id: " + s)
	}
	return TagID(v), nil
}

// ParseUserID parses and validates a user identifier.
func ParseUserID(s string) (UserID, error) {
	v, err := parseUUID(s)
	if err != nil {
		return "", serrors.InvalidIdentifier("invalid user id: " + s)
	}
	return UserID(v), nil
}

// TagSet is a normalized tag collection: sorted, duplicate-free. All set
// operations (equality, containment, the dedup key) run on this form, so
// they are independent of the order tags arrived in.
type TagSet []TagID

// NewTagSet normalizes the given tags into a TagSet.
func NewTagSet(tags ...TagID) TagSet {
	if len(tags) == 0 {
		return TagSet{}
	}
	out := make(TagSet, len(tags))
	copy(out, tags)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	// Drop adjacent duplicates after sorting.
	n := 0
	for i, t := range out {
		if i == 0 || t != out[i-1] {
			out[n] = t
			n++
		}
	}
	return out[:n]
}

// Equal reports set equality, order-independent because both sides are
// normalized.
func (s TagSet) Equal(other TagSet) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Contains reports whether the set holds the given tag.
func (s TagSet) Contains(tag TagID) bool {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= tag })
	return i < len(s) && s[i] == tag
}

// ContainsAll reports whether the set is a superset of other.
func (s TagSet) ContainsAll(other TagSet) bool {
	for _, t := range other {
		if !s.Contains(t) {
			return false
		}
	}
	return true
}

// Strings returns the tags as a string slice in normalized order.
func (s TagSet) Strings() []string {
	out := make([]string, len(s))
	for i, t := range s {
		out[i] = string(t)
	}
	return out
}

// Clone returns an independent copy.
func (s TagSet) Clone() TagSet {
	out := make(TagSet, len(s))
	copy(out, s)
	return out
}

// Record is an immutable note identified by the set of tags it carries.
// Mutators return a fresh value; a Record handed to the store is never
// modified in place.
type Record struct {
	ID        RecordID
	CreatorID UserID
	Content   string
	TagIDs    TagSet
	CreatedTs int64
	UpdatedTs int64
}

// NewRecord constructs and validates a record owned by creator.
func NewRecord(creator UserID, content string, tags ...TagID) (*Record, error) {
	now := time.Now().Unix()
	r := &Record{
		ID:        NewRecordID(),
		CreatorID: creator,
		Content:   content,
		TagIDs:    NewTagSet(tags...),
		CreatedTs: now,
		UpdatedTs: now,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks the aggregate invariants.
func (r *Record) Validate() error {
	if _, err := ParseRecordID(string(r.ID)); err != nil {
		return err
	}
	if _, err := ParseUserID(string(r.CreatorID)); err != nil {
		return err
	}
	if strings.TrimSpace(r.Content) == "" {
		return serrors.ValidationFailure("record content must not be empty")
	}
	if len(r.Content) > MaxContentBytes {
		return serrors.ValidationFailure("record content exceeds maximum length")
	}
	if len(r.TagIDs) > MaxTagsPerRecord {
		return serrors.ValidationFailure("record carries too many tags")
	}
	for _, t := range r.TagIDs {
		if _, err := ParseTagID(string(t)); err != nil {
			return err
		}
	}
	if r.UpdatedTs < r.CreatedTs {
		return serrors.ValidationFailure("record updated timestamp precedes creation")
	}
	return nil
}

// UpdateContent returns a copy with new content and an advanced update
// timestamp.
func (r *Record) UpdateContent(content string) (*Record, error) {
	next := r.clone()
	next.Content = content
	next.UpdatedTs = nextTimestamp(r.UpdatedTs)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return next, nil
}

// UpdateTags returns a copy with the new tag-set and an advanced update
// timestamp.
func (r *Record) UpdateTags(tags ...TagID) (*Record, error) {
	next := r.clone()
	next.TagIDs = NewTagSet(tags...)
	next.UpdatedTs = nextTimestamp(r.UpdatedTs)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return next, nil
}

// Equal is identity equality: two records are the same record iff their ids
// match, regardless of content.
func (r *Record) Equal(other *Record) bool {
	return other != nil && r.ID == other.ID
}

func (r *Record) clone() *Record {
	next := *r
	next.TagIDs = r.TagIDs.Clone()
	return &next
}

// nextTimestamp guarantees the update timestamp advances even within the
// same wall-clock second.
func nextTimestamp(prev int64) int64 {
	ts := time.Now().Unix()
	if ts <= prev {
		ts = prev + 1
	}
	return ts
}
