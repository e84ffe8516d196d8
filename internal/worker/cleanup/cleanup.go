// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
// 投稿とエントリは監査記録として保持し、このジョブの対象にしない。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SessionCleanupJob は有効期限から保持日数を過ぎたセッションを削除するジョブ。
type SessionCleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int // 期限切れ後の保持日数（デフォルト: 30）
}

// NewSessionCleanupJob は新しいSessionCleanupJobを生成する。
// retentionDaysが0以下の場合は30日を使用する。
func NewSessionCleanupJob(db Executor, logger *slog.Logger, retentionDays int) *SessionCleanupJob {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &SessionCleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: retentionDays,
	}
}

// Run はexpires_atがRetentionDays日前より古いセッションを削除する。
// 削除対象がない場合もエラーにならない。
func (j *SessionCleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d days", j.RetentionDays)

	query := `DELETE FROM sessions WHERE expires_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("セッションクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	j.logger.Info("セッションクリーンアップが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回Runを実行し、以降intervalごとに繰り返す。
// ctxがキャンセルされるまでブロックする。Runの失敗はログに残して次の周期へ進む。
func (j *SessionCleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *SessionCleanupJob) runOnce(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Warn("session cleanup cycle skipped", slog.String("error", err.Error()))
	}
}
