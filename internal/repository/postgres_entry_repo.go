package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/opendatacensus/internal/model"
)

// PostgresEntryRepo はPostgreSQLを使用した公開エントリリポジトリ。
type PostgresEntryRepo struct {
	db *sql.DB
}

// NewPostgresEntryRepo はPostgresEntryRepoを生成する。
func NewPostgresEntryRepo(db *sql.DB) *PostgresEntryRepo {
	return &PostgresEntryRepo{db: db}
}

const entryColumns = `place, dataset, year, payload, submission_id, reviewer, updated_at`

func scanEntry(row rowScanner) (*model.Entry, error) {
	e := &model.Entry{}
	var payload []byte
	if err := row.Scan(&e.Place, &e.Dataset, &e.Year, &payload, &e.SubmissionID, &e.Reviewer, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &e.Payload); err != nil {
		return nil, fmt.Errorf("エントリペイロードのデコードに失敗しました: %w", err)
	}
	return e, nil
}

// FindByKey は (place, dataset, year) のエントリを取得する。見つからない場合はnilを返す。
func (r *PostgresEntryRepo) FindByKey(ctx context.Context, key model.EntryKey) (*model.Entry, error) {
	e, err := scanEntry(r.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE place = $1 AND dataset = $2 AND year = $3`,
		key.Place, key.Dataset, key.Year,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("エントリの取得に失敗しました: %w", err)
	}
	return e, nil
}

// ListByPlace は指定placeの全エントリを年の降順、dataset順で返す。
func (r *PostgresEntryRepo) ListByPlace(ctx context.Context, place string) ([]*model.Entry, error) {
	return r.list(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE place = $1 ORDER BY year DESC, dataset ASC`,
		place,
	)
}

// ListByYear は指定年の全エントリをplace, dataset順で返す。
func (r *PostgresEntryRepo) ListByYear(ctx context.Context, year int) ([]*model.Entry, error) {
	return r.list(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE year = $1 ORDER BY place ASC, dataset ASC`,
		year,
	)
}

func (r *PostgresEntryRepo) list(ctx context.Context, query string, args ...any) ([]*model.Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("エントリ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var entries []*model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("エントリのスキャンに失敗しました: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("エントリの走査に失敗しました: %w", err)
	}
	return entries, nil
}

// compile-time interface check
var _ EntryRepository = (*PostgresEntryRepo)(nil)
