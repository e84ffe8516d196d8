package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/opendatacensus/internal/model"
)

// PostgresSubmissionRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresSubmissionRepo struct {
	db *sql.DB
}

// NewPostgresSubmissionRepo はPostgresSubmissionRepoを生成する。
func NewPostgresSubmissionRepo(db *sql.DB) *PostgresSubmissionRepo {
	return &PostgresSubmissionRepo{db: db}
}

const submissionColumns = `id, place, dataset, year, submitter, payload, status, reviewer, reviewed_at, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSubmission は1行分の投稿をスキャンする。
func scanSubmission(row rowScanner) (*model.Submission, error) {
	s := &model.Submission{}
	var payload []byte
	var reviewer sql.NullString
	var reviewedAt sql.NullTime

	if err := row.Scan(
		&s.ID, &s.Place, &s.Dataset, &s.Year, &s.Submitter,
		&payload, &s.Status, &reviewer, &reviewedAt,
		&s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(payload, &s.Payload); err != nil {
		return nil, fmt.Errorf("投稿ペイロードのデコードに失敗しました: %w", err)
	}
	if reviewer.Valid {
		s.Reviewer = reviewer.String
	}
	if reviewedAt.Valid {
		s.ReviewedAt = &reviewedAt.Time
	}
	return s, nil
}

// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
// UUIDとして解釈できないIDも「見つからない」として扱う。
func (r *PostgresSubmissionRepo) FindByID(ctx context.Context, id string) (*model.Submission, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	s, err := scanSubmission(r.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	return s, nil
}

// Create は投稿をpending状態で作成する。
// IDが未設定の場合はUUIDを採番し、submission.IDに書き戻す。
func (r *PostgresSubmissionRepo) Create(ctx context.Context, submission *model.Submission) error {
	if submission.ID == "" {
		submission.ID = uuid.New().String()
	}
	now := time.Now()
	if submission.CreatedAt.IsZero() {
		submission.CreatedAt = now
	}
	submission.UpdatedAt = submission.CreatedAt
	submission.Status = model.SubmissionStatusPending

	payload, err := encodePayload(submission.Payload)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO submissions (id, place, dataset, year, submitter, payload, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		submission.ID, submission.Place, submission.Dataset, submission.Year,
		submission.Submitter, payload, submission.Status,
		submission.CreatedAt, submission.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}
	return nil
}

// Process はpending状態の投稿を終端状態へ遷移させる。
// 行ロック（FOR UPDATE）で同一投稿への同時レビューを直列化し、
// 2回目以降の遷移はSUBMISSION_ALREADY_PROCESSEDとして拒否する。
// 投稿のペイロードは提出時のまま変更しない。
// publishedの場合のみ、提出時のペイロードにpayload（レビュアーの編集）を
// 項目ごとに上書きした内容でエントリをUPSERTし、既存エントリを置き換える。
func (r *PostgresSubmissionRepo) Process(
	ctx context.Context,
	id string,
	status model.SubmissionStatus,
	reviewer string,
	payload model.Payload,
) (*model.Submission, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("終端状態以外への遷移はできません: %s", status)
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewSubmissionNotFoundError(id)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := scanSubmission(tx.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1 FOR UPDATE`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewSubmissionNotFoundError(id)
	}
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if current.Status.IsTerminal() {
		return nil, model.NewSubmissionAlreadyProcessedError(id, current.Status)
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx,
		`UPDATE submissions
		 SET status = $1, reviewer = $2, reviewed_at = $3, updated_at = $3
		 WHERE id = $4 AND status = 'pending'`,
		status, reviewer, now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("投稿状態の更新に失敗しました: %w", err)
	}

	if status == model.SubmissionStatusPublished {
		encoded, err := encodePayload(current.Payload.Merge(payload))
		if err != nil {
			return nil, err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO entries (place, dataset, year, payload, submission_id, reviewer, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (place, dataset, year) DO UPDATE
			 SET payload = EXCLUDED.payload,
			     submission_id = EXCLUDED.submission_id,
			     reviewer = EXCLUDED.reviewer,
			     updated_at = EXCLUDED.updated_at`,
			current.Place, current.Dataset, current.Year, encoded, id, reviewer, now,
		)
		if err != nil {
			return nil, fmt.Errorf("エントリの更新に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	current.Status = status
	current.Reviewer = reviewer
	current.ReviewedAt = &now
	current.UpdatedAt = now
	return current, nil
}

// ListPending はレビュー待ちの投稿を古い順に最大limit件返す。
func (r *PostgresSubmissionRepo) ListPending(ctx context.Context, limit int) ([]*model.Submission, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+submissionColumns+`
		 FROM submissions
		 WHERE status = 'pending'
		 ORDER BY created_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("レビュー待ち投稿の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var submissions []*model.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("投稿のスキャンに失敗しました: %w", err)
		}
		submissions = append(submissions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("投稿の走査に失敗しました: %w", err)
	}
	return submissions, nil
}

// encodePayload はペイロードをJSONBカラム用にエンコードする。nilは空オブジェクトとして保存する。
func encodePayload(p model.Payload) ([]byte, error) {
	if p == nil {
		p = model.Payload{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("ペイロードのエンコードに失敗しました: %w", err)
	}
	return b, nil
}

// compile-time interface check
var _ SubmissionRepository = (*PostgresSubmissionRepo)(nil)
