// Package security は投稿内容のサニタイズとURL検証を提供する。
package security

import (
	"strings"

	"github.com/hitoshi/opendatacensus/internal/model"
	"github.com/microcosm-cc/bluemonday"
)

// richTextFields はHTMLとして表示する自由記述の回答項目。
var richTextFields = []string{"details"}

// AnswerSanitizer は調査回答のサニタイズを行う。
type AnswerSanitizer interface {
	// SanitizePayload は自由記述項目を許可リストでサニタイズし、
	// その他の項目は前後の空白を除去したコピーを返す。元のPayloadは変更しない。
	SanitizePayload(p model.Payload) model.Payload
}

// answerSanitizer はAnswerSanitizerの実装。bluemondayのポリシーはスレッドセーフ。
type answerSanitizer struct {
	policy *bluemonday.Policy
}

// NewAnswerSanitizer はAnswerSanitizerを生成する。
// 自由記述で許可するのは段落・改行・リスト・強調と、httpsまたはhttpの外部リンクのみ。
func NewAnswerSanitizer() *answerSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements("p", "br", "ul", "ol", "li", "strong", "em", "code")

	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)
	p.RequireNoFollowOnLinks(true)

	return &answerSanitizer{policy: p}
}

// SanitizePayload はPayloadのサニタイズ済みコピーを返す。
func (s *answerSanitizer) SanitizePayload(p model.Payload) model.Payload {
	out := make(model.Payload, len(p))
	for k, v := range p {
		out[k] = strings.TrimSpace(v)
	}
	for _, field := range richTextFields {
		if v, ok := out[field]; ok {
			out[field] = s.policy.Sanitize(v)
		}
	}
	return out
}

// compile-time interface check
var _ AnswerSanitizer = (*answerSanitizer)(nil)
