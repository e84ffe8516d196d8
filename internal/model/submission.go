package model

import (
	"strconv"
	"time"
)

// SubmissionStatus は投稿のレビュー状態を表す。
type SubmissionStatus string

const (
	// SubmissionStatusPending はレビュー待ちの状態。
	SubmissionStatusPending SubmissionStatus = "pending"
	// SubmissionStatusPublished は公開済みの状態（終端）。
	SubmissionStatusPublished SubmissionStatus = "published"
	// SubmissionStatusRejected は却下済みの状態（終端）。
	SubmissionStatusRejected SubmissionStatus = "rejected"
)

// IsTerminal は状態が終端（これ以上遷移しない）かどうかを返す。
func (s SubmissionStatus) IsTerminal() bool {
	return s == SubmissionStatusPublished || s == SubmissionStatusRejected
}

// Payload は調査の回答（フォームの任意項目）を表す。
type Payload map[string]string

// Clone はPayloadのコピーを返す。
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge はpの複製にeditsの空でない値を項目ごとに上書きしたPayloadを返す。
// p自身は変更しない。
func (p Payload) Merge(edits Payload) Payload {
	out := p.Clone()
	for k, v := range edits {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// EntryKey は公開済みエントリを一意に識別するキー。
type EntryKey struct {
	Place   string
	Dataset string
	Year    int
}

// Submission は市民から投稿されたエントリ候補を表す。
// 却下された投稿も監査記録として削除しない。
type Submission struct {
	ID         string
	Place      string
	Dataset    string
	Year       int
	Submitter  string // User.ID
	Payload    Payload
	Status     SubmissionStatus
	Reviewer   string // レビュー済みの場合のみ
	ReviewedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Key は投稿が対象とするエントリキーを返す。
func (s *Submission) Key() EntryKey {
	return EntryKey{Place: s.Place, Dataset: s.Dataset, Year: s.Year}
}

// Entry は (place, dataset, year) ごとに現在公開されているセンサス値を表す。
type Entry struct {
	Place        string
	Dataset      string
	Year         int
	Payload      Payload
	SubmissionID string
	Reviewer     string
	UpdatedAt    time.Time
}

// Fields はエントリをフォームのプリフィル用にフラットなマップへ変換する。
func (e *Entry) Fields() map[string]string {
	out := make(map[string]string, len(e.Payload)+3)
	for k, v := range e.Payload {
		out[k] = v
	}
	out["place"] = e.Place
	out["dataset"] = e.Dataset
	if e.Year != 0 {
		out["year"] = strconv.Itoa(e.Year)
	}
	return out
}

// ReviewDecision はレビュー結果の2値を表す。
type ReviewDecision int

const (
	// DecisionReject は投稿を却下する。
	DecisionReject ReviewDecision = iota
	// DecisionPublish は投稿を公開しエントリへ反映する。
	DecisionPublish
)

// reviewActionPublish はフォームのsubmitボタンが送る公開アクションの値。
const reviewActionPublish = "Publish"

// ParseReviewDecision はフォームのアクション文字列をReviewDecisionに変換する。
// "Publish" 以外の値はすべて却下として扱う。
func ParseReviewDecision(action string) ReviewDecision {
	if action == reviewActionPublish {
		return DecisionPublish
	}
	return DecisionReject
}

// String はログ・メトリクス用の名前を返す。
func (d ReviewDecision) String() string {
	if d == DecisionPublish {
		return "publish"
	}
	return "reject"
}

// Status は決定に対応する遷移先の状態を返す。
func (d ReviewDecision) Status() SubmissionStatus {
	if d == DecisionPublish {
		return SubmissionStatusPublished
	}
	return SubmissionStatusRejected
}
