// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/opendatacensus/internal/model"
)

// SessionRepository はセッションデータの永続化インターフェース。
// セッションにはユーザーレコード全体がシリアライズされて保存される。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// SubmissionRepository は投稿データの永続化インターフェース。
// バックエンドの getSubmission / insertSubmission / processSubmission に相当する。
type SubmissionRepository interface {
	// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Submission, error)

	// Create は投稿をpending状態で作成する。
	Create(ctx context.Context, submission *model.Submission) error

	// Process はpending状態の投稿をstatusへ遷移させる。
	// 投稿のペイロードは変更しない。statusがpublishedの場合、同一トランザクション内で
	// 提出時のペイロードにpayloadの空でない項目を上書きした内容を
	// (place, dataset, year) のエントリとしてUPSERTする。
	// 投稿が存在しない場合はSUBMISSION_NOT_FOUND、
	// 終端状態の場合はSUBMISSION_ALREADY_PROCESSEDの*model.APIErrorを返す。
	Process(ctx context.Context, id string, status model.SubmissionStatus, reviewer string, payload model.Payload) (*model.Submission, error)

	// ListPending はレビュー待ちの投稿を古い順に最大limit件返す。
	ListPending(ctx context.Context, limit int) ([]*model.Submission, error)
}

// EntryRepository は公開済みエントリの読み取りインターフェース。
// エントリの書き込みはSubmissionRepository.Processのみが行う。
type EntryRepository interface {
	// FindByKey は (place, dataset, year) のエントリを取得する。見つからない場合はnilを返す。
	FindByKey(ctx context.Context, key model.EntryKey) (*model.Entry, error)

	// ListByPlace は指定placeの全エントリを年の降順で返す。
	ListByPlace(ctx context.Context, place string) ([]*model.Entry, error)

	// ListByYear は指定年の全エントリを返す。
	ListByYear(ctx context.Context, year int) ([]*model.Entry, error)
}
