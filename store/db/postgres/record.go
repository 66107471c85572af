package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	serrors "github.com/hrygo/tagnote/internal/errors"
	"github.com/hrygo/tagnote/store"
)

// maxListLimit caps a single page to keep result sets bounded.
const maxListLimit = 1000

func (d *DB) CreateRecord(ctx context.Context, create *store.Record) (*store.Record, error) {
	err := d.withUserTx(ctx, create.CreatorID, func(tx *sql.Tx) error {
		return createRecordTx(ctx, tx, create)
	})
	if err != nil {
		return nil, err
	}
	return create, nil
}

// createRecordTx is the single-item insert shared by CreateRecord and the
// batch path, so both enforce the dedup invariant through the same
// uniqueness constraint.
func createRecordTx(ctx context.Context, tx *sql.Tx, create *store.Record) error {
	normalized := store.NewTagSet(create.TagIDs...)

	fields := []string{"id", "creator_id", "content", "tags", "tags_normalized", "created_ts", "updated_ts"}
	args := []any{
		string(create.ID),
		string(create.CreatorID),
		create.Content,
		pq.Array(create.TagIDs.Strings()),
		pq.Array(normalized.Strings()),
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

	list := make([]*store.Record, 0)
	err = d.withUserTx(ctx, find.CreatorID, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return classifyError(err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				r       store.Record
				id      string
				creator string
				tags    []string
			)
			if err := rows.Scan(&id, &creator, &r.Content, pq.Array(&tags), &r.CreatedTs, &r.UpdatedTs); err != nil {
				return errors.Wrap(err, "failed to scan record")
			}
			r.ID = store.RecordID(id)
			r.CreatorID = store.UserID(creator)
			r.TagIDs = toTagSet(tags)
			list = append(list, &r)
		}
		if err := rows.Err(); err != nil {
			return classifyError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
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
	err = d.withUserTx(ctx, find.CreatorID, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
			return classifyError(err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (d *DB) UpdateRecord(ctx context.Context, update *store.Record) (*store.Record, error) {
	normalized := store.NewTagSet(update.TagIDs...)

	stmt := `UPDATE record
		SET content = $3, tags = $4, tags_normalized = $5, updated_ts = $6
		WHERE id = $1 AND creator_id = $2
		RETURNING created_ts`

	result := *update
	err := d.withUserTx(ctx, update.CreatorID, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, stmt,
			string(update.ID),
			string(update.CreatorID),
			update.Content,
			pq.Array(update.TagIDs.Strings()),
			pq.Array(normalized.Strings()),
			update.UpdatedTs,
		).Scan(&result.CreatedTs)
		if err == sql.ErrNoRows {
			return serrors.RecordNotFound("record not found: " + string(update.ID))
		}
		if err != nil {
			return classifyError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (d *DB) DeleteRecord(ctx context.Context, delete *store.DeleteRecord) error {
	if _, err := store.ParseRecordID(string(delete.ID)); err != nil {
		return serrors.RecordNotFound("record not found: " + string(delete.ID))
	}
	return d.withUserTx(ctx, delete.CreatorID, func(tx *sql.Tx) error {
		return deleteRecordTx(ctx, tx, delete.ID, delete.CreatorID)
	})
}

func deleteRecordTx(ctx context.Context, tx *sql.Tx, id store.RecordID, creator store.UserID) error {
	result, err := tx.ExecContext(ctx, `DELETE FROM record WHERE id = $1 AND creator_id = $2`, string(id), string(creator))
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

	err := d.withUserTx(ctx, creator, func(tx *sql.Tx) error {
		for _, r := range creates {
			if err := createRecordTx(ctx, tx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return creates, nil
}

func (d *DB) DeleteRecords(ctx context.Context, creator store.UserID, ids []store.RecordID) error {
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if _, err := store.ParseRecordID(string(id)); err != nil {
			return serrors.RecordNotFound("record not found: " + string(id))
		}
	}
	return d.withUserTx(ctx, creator, func(tx *sql.Tx) error {
		for _, id := range ids {
			if err := deleteRecordTx(ctx, tx, id, creator); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *DB) GetTagStatistics(ctx context.Context, creator store.UserID) ([]*store.TagStatistic, error) {
	query := `SELECT tag, COUNT(*) AS tag_count
		FROM record CROSS JOIN LATERAL unnest(tags_normalized) AS tag
		WHERE creator_id = $1
		GROUP BY tag
		ORDER BY tag_count DESC, tag ASC`

	stats := make([]*store.TagStatistic, 0)
	err := d.withUserTx(ctx, creator, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, string(creator))
		if err != nil {
			return classifyError(err)
		}
		defer rows.Close()

		for rows.Next() {
			s := &store.TagStatistic{}
			if err := rows.Scan(&s.Tag, &s.Count); err != nil {
				return errors.Wrap(err, "failed to scan tag statistic")
			}
			stats = append(stats, s)
		}
		return classifyError(rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (d *DB) ListTagSuggestions(ctx context.Context, find *store.FindTagSuggestion) ([]*store.TagSuggestion, error) {
	pattern := escapeLike(strings.ToLower(find.Query)) + "%"
	limit := find.Limit
	if limit <= 0 {
		limit = store.DefaultSuggestionLimit
	}

	query := `SELECT tag, COUNT(*) AS tag_count
		FROM record CROSS JOIN LATERAL unnest(tags_normalized) AS tag
		WHERE creator_id = $1 AND lower(tag) LIKE $2
		GROUP BY tag
		ORDER BY tag_count DESC, tag ASC
		LIMIT $3`

	suggestions := make([]*store.TagSuggestion, 0)
	err := d.withUserTx(ctx, find.CreatorID, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, string(find.CreatorID), pattern, limit)
		if err != nil {
			return classifyError(err)
		}
		defer rows.Close()

		for rows.Next() {
			s := &store.TagSuggestion{}
			if err := rows.Scan(&s.Tag, &s.Count); err != nil {
				return errors.Wrap(err, "failed to scan tag suggestion")
			}
			suggestions = append(suggestions, s)
		}
		return classifyError(rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return suggestions, nil
}

// buildFindWhere translates a find condition into predicates. The creator
// predicate is always present; together with the row policy it forms the
// two independent isolation layers.
func buildFindWhere(find *store.FindRecord) ([]string, []any, error) {
	if find == nil {
		return nil, nil, errors.New("find parameter cannot be nil")
	}
	if _, err := store.ParseUserID(string(find.CreatorID)); err != nil {
		return nil, nil, err
	}

	where, args := []string{"creator_id = " + placeholder(1)}, []any{string(find.CreatorID)}

	if find.ID != nil {
		if _, err := store.ParseRecordID(string(*find.ID)); err != nil {
			return nil, nil, err
		}
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, string(*find.ID))
	}
	if find.ExcludeID != nil {
		if _, err := store.ParseRecordID(string(*find.ExcludeID)); err != nil {
			return nil, nil, err
		}
		where, args = append(where, "id <> "+placeholder(len(args)+1)), append(args, string(*find.ExcludeID))
	}
	if len(find.TagIDs) > 0 {
		tags, err := validTagStrings(find.TagIDs)
		if err != nil {
			return nil, nil, err
		}
		where, args = append(where, "tags_normalized @> "+placeholder(len(args)+1)), append(args, pq.Array(tags))
	}
	if find.ExactTagSet != nil {
		set := store.NewTagSet(*find.ExactTagSet...)
		tags, err := validTagStrings(set)
		if err != nil {
			return nil, nil, err
		}
		where, args = append(where, "tags_normalized = "+placeholder(len(args)+1)), append(args, pq.Array(tags))
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

func toTagSet(tags []string) store.TagSet {
	out := make([]store.TagID, len(tags))
	for i, t := range tags {
		out[i] = store.TagID(t)
	}
	return store.NewTagSet(out...)
}
