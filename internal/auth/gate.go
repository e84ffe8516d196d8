package auth

import "github.com/hitoshi/opendatacensus/internal/model"

// Gate はレビュアー権限を判定する。
type Gate struct {
	reviewers map[string]struct{}
}

// NewGate は許可リストのユーザーIDからGateを生成する。
func NewGate(reviewerIDs []string) *Gate {
	m := make(map[string]struct{}, len(reviewerIDs))
	for _, id := range reviewerIDs {
		m[id] = struct{}{}
	}
	return &Gate{reviewers: m}
}

// IsReviewer はuserが許可リストに含まれるかを返す。nilは常にfalse。
func (g *Gate) IsReviewer(user *model.User) bool {
	if user == nil {
		return false
	}
	_, ok := g.reviewers[user.ID]
	return ok
}
