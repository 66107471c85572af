package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	serrors "github.com/hrygo/tagnote/internal/errors"
	"github.com/hrygo/tagnote/store"
)

// maxListLimit caps a single page to keep result sets bounded.
const maxListLimit = 1000

// encodeTags renders a tag list as canonical JSON. For normalized sets the
// encoding is deterministic, which is what makes the uniqueness constraint
// on tags_normalized a set constraint.
func encodeTags(tags []string) (string, error) {
	buf, err := json.Marshal(tags)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode tags")
	}
	return string(buf), nil
}

func decodeTags(s string) (store.TagSet, error) {
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil, errors.Wrap(err, "failed to decode tags")
	}
	out := make([]store.TagID, len(tags))
	for i, t := range tags {
		out[i] = store.TagID(t)
	}
	return store.NewTagSet(out...), nil
}

func (d *DB) CreateRecord(ctx context.Context, create *store.Record) (*store.Record, error) {
	if _, err := store.ParseUserID(string(create.CreatorID)); err != nil {
		return nil, err
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifyError(err)
	}
	defer tx.Rollback()

	if err := createRecordTx(ctx, tx, create); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, classifyError(err)
	}
	return create, nil
}

func createRecordTx(ctx context.Context, tx *sql.Tx, create *store.Record) error {
	rawJSON, err := encodeTags(create.TagIDs.Strings())
	if err != nil {
		return err
	}
	normJSON, err := encodeTags(store.NewTagSet(create.TagIDs...).Strings())
	if err != nil {
		return err
	}

	fields := []string{"id", "creator_id", "content", "tags", "tags_normalized", "created_ts", "updated_ts"}
	args := []any{
		string(create.ID),
		string(create.CreatorID),
		create.Content,
		rawJSON,
		normJSON,
		create.CreatedTs,
		create.UpdatedTs,
	}

	stmt := `INSERT INTO record (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)`

	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return classifyError(err)
	}
	return nil
}

func (d *DB) ListRecords(ctx context.Context, find *store.FindRecord) ([]*store.Record, error) {
	where, args, err := buildFindWhere(find)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, creator_id, content, tags, created_ts, updated_ts
		FROM record WHERE ` + strings.Join(where, " AND ") + ` ORDER BY updated_ts DESC, id ASC`

	limit := find.Limit
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	if find.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", find.Offset)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	list := make([]*store.Record, 0)
	for rows.Next() {
		var (
			r        store.Record
			id       string
			creator  string
			tagsJSON string
		)
		if err := rows.Scan(&id, &creator, &r.Content, &tagsJSON, &r.CreatedTs, &r.UpdatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan record")
		}
		tags, err := decodeTags(tagsJSON)
		if err != nil {
			return nil, err
		}
		r.ID = store.RecordID(id)
		r.CreatorID = store.UserID(creator)
		r.TagIDs = tags
		list = append(list, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(err)
	}
	return list, nil
}

func (d *DB) CountRecords(ctx context.Context, find *store.FindRecord) (int64, error) {
	where, args, err := buildFindWhere(find)
	if err != nil {
		return 0, err
	}

	query := `SELECT COUNT(*) FROM record WHERE ` + strings.Join(where, " AND ")

	var count int64
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, classifyError(err)
	}
	return count, nil
}

func (d *DB) UpdateRecord(ctx context.Context, update *store.Record) (*store.Record, error) {
	if _, err := store.ParseUserID(string(update.CreatorID)); err != nil {
		return nil, err
	}
	rawJSON, err := encodeTags(update.TagIDs.Strings())
	if err != nil {
		return nil, err
	}
	normJSON, err := encodeTags(store.NewTagSet(update.TagIDs...).Strings())
	if err != nil {
		return nil, err
	}

	stmt := `UPDATE record
		SET content = ?, tags = ?, tags_normalized = ?, updated_ts = ?
		WHERE id = ? AND creator_id = ?
		RETURNING created_ts`

	result := *update
	err = d.db.QueryRowContext(ctx, stmt,
		update.Content,
		rawJSON,
		normJSON,
		update.UpdatedTs,
		string(update.ID),
		string(update.CreatorID),
	).Scan(&result.CreatedTs)
	if err == sql.ErrNoRows {
		return nil, serrors.RecordNotFound("record not found: " + string(update.ID))
	}
	if err != nil {
		return nil, classifyError(err)
	}
	return &result, nil
}

func (d *DB) DeleteRecord(ctx context.Context, delete *store.DeleteRecord) error {
	if _, err := store.ParseRecordID(string(delete.ID)); err != nil {
		return serrors.RecordNotFound("record not found: " + string(delete.ID))
	}
	if _, err := store.ParseUserID(string(delete.CreatorID)); err != nil {
		return err
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError(err)
	}
	defer tx.Rollback()

	if err := deleteRecordTx(ctx, tx, delete.ID, delete.CreatorID); err != nil {
		return err
	}
	return classifyError(tx.Commit())
}

func deleteRecordTx(ctx context.Context, tx *sql.Tx, id store.RecordID, creator store.UserID) error {
	result, err := tx.ExecContext(ctx, `DELETE FROM record WHERE id = ? AND creator_id = ?`, string(id), string(creator))
	if err != nil {
		return classifyError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return classifyError(err)
	}
	if n == 0 {
		return serrors.RecordNotFound("record not found: " + string(id))
	}
	return nil
}

func (d *DB) CreateRecords(ctx context.Context, creates []*store.Record) ([]*store.Record, error) {
	if len(creates) == 0 {
		return nil, nil
	}
	creator := creates[0].CreatorID
	for _, r := range creates {
		if r.CreatorID != creator {
			return nil, serrors.ValidationFailure("batch must belong to a single user")
		}
	}
	if _, err := store.ParseUserID(string(creator)); err != nil {
		return nil, err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifyError(err)
	}
	defer tx.Rollback()

	for _, r := range creates {
		if err := createRecordTx(ctx, tx, r); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, classifyError(err)
	}
	return creates, nil
}

func (d *DB) DeleteRecords(ctx context.Context, creator store.UserID, ids []store.RecordID) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := store.ParseUserID(string(creator)); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := store.ParseRecordID(string(id)); err != nil {
			return serrors.RecordNotFound("record not found: " + string(id))
		}
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError(err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if err := deleteRecordTx(ctx, tx, id, creator); err != nil {
			return err
		}
	}
	return classifyError(tx.Commit())
}

func (d *DB) GetTagStatistics(ctx context.Context, creator store.UserID) ([]*store.TagStatistic, error) {
	if _, err := store.ParseUserID(string(creator)); err != nil {
		return nil, err
	}

	query := `SELECT je.value AS tag, COUNT(*) AS tag_count
		FROM record, json_each(record.tags_normalized) AS je
		WHERE record.creator_id = ?
		GROUP BY je.value
		ORDER BY tag_count DESC, tag ASC`

	rows, err := d.db.QueryContext(ctx, query, string(creator))
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	stats := make([]*store.TagStatistic, 0)
	for rows.Next() {
		s := &store.TagStatistic{}
		if err := rows.Scan(&s.Tag, &s.Count); err != nil {
			return nil, errors.Wrap(err, "failed to scan tag statistic")
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(err)
	}
	return stats, nil
}

func (d *DB) ListTagSuggestions(ctx context.Context, find *store.FindTagSuggestion) ([]*store.TagSuggestion, error) {
	if _, err := store.ParseUserID(string(find.CreatorID)); err != nil {
		return nil, err
	}
	pattern := escapeLike(strings.ToLower(find.Query)) + "%"
	limit := find.Limit
	if limit <= 0 {
		limit = store.DefaultSuggestionLimit
	}

	query := `SELECT je.value AS tag, COUNT(*) AS tag_count
		FROM record, json_each(record.tags_normalized) AS je
		WHERE record.creator_id = ? AND lower(je.value) LIKE ? ESCAPE '\'
		GROUP BY je.value
		ORDER BY tag_count DESC, tag ASC
		LIMIT ?`

	rows, err := d.db.QueryContext(ctx, query, string(find.CreatorID), pattern, limit)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	suggestions := make([]*store.TagSuggestion, 0)
	for rows.Next() {
		s := &store.TagSuggestion{}
		if err := rows.Scan(&s.Tag, &s.Count); err != nil {
			return nil, errors.Wrap(err, "failed to scan tag suggestion")
		}
		suggestions = append(suggestions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(err)
	}
	return suggestions, nil
}

// buildFindWhere translates a find condition into predicates. The creator
// predicate is always present; sqlite has no second engine-level isolation
// layer, so this predicate is the sole scope boundary here.
func buildFindWhere(find *store.FindRecord) ([]string, []any, error) {
	if find == nil {
		return nil, nil, errors.New("find parameter cannot be nil")
	}
	if _, err := store.ParseUserID(string(find.CreatorID)); err != nil {
		return nil, nil, err
	}

	where, args := []string{"creator_id = ?"}, []any{string(find.CreatorID)}

	if find.ID != nil {
		if _, err := store.ParseRecordID(string(*find.ID)); err != nil {
			return nil, nil, err
		}
		where, args = append(where, "id = ?"), append(args, string(*find.ID))
	}
	if find.ExcludeID != nil {
		if _, err := store.ParseRecordID(string(*find.ExcludeID)); err != nil {
			return nil, nil, err
		}
		where, args = append(where, "id <> ?"), append(args, string(*find.ExcludeID))
	}
	if len(find.TagIDs) > 0 {
		tags, err := validTagStrings(find.TagIDs)
		if err != nil {
			return nil, nil, err
		}
		for _, tag := range tags {
			where = append(where, "EXISTS (SELECT 1 FROM json_each(record.tags_normalized) WHERE json_each.value = ?)")
			args = append(args, tag)
		}
	}
	if find.ExactTagSet != nil {
		set := store.NewTagSet(*find.ExactTagSet...)
		if _, err := validTagStrings(set); err != nil {
			return nil, nil, err
		}
		normJSON, err := encodeTags(set.Strings())
		if err != nil {
			return nil, nil, err
		}
		where, args = append(where, "tags_normalized = ?"), append(args, normJSON)
	}

	return where, args, nil
}

// validTagStrings validates and caps a tag array before it reaches a search
// predicate.
func validTagStrings(tags []store.TagID) ([]string, error) {
	if len(tags) > store.MaxTagsPerRecord {
		return nil, serrors.ValidationFailure("too many tags in query")
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		id, err := store.ParseTagID(string(t))
		if err != nil {
			return nil, err
		}
		out = append(out, string(id))
	}
	return out, nil
}
