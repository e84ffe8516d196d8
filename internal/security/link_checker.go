package security

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/hitoshi/opendatacensus/internal/model"
)

// linkFields はリンク確認の対象とする回答項目。
var linkFields = []string{"url", "licenseurl"}

// LinkStatus は1つのリンクの確認結果。
type LinkStatus struct {
	Field      string
	URL        string
	Reachable  bool
	StatusCode int
	Error      string
}

// urlValidator はURLの静的検証を行う。
type urlValidator interface {
	ValidateURL(rawURL string) error
}

// LinkChecker は投稿に含まれるURLへ到達できるかを確認する。
type LinkChecker struct {
	validator urlValidator
	client    *http.Client
}

// NewLinkChecker はLinkCheckerを生成する。clientにはSSRF防止済みのクライアントを渡すこと。
func NewLinkChecker(validator urlValidator, client *http.Client) *LinkChecker {
	return &LinkChecker{validator: validator, client: client}
}

// CheckPayload はPayloadのURL項目を順に確認する。空の項目は対象外。
func (c *LinkChecker) CheckPayload(ctx context.Context, p model.Payload) []LinkStatus {
	var results []LinkStatus
	for _, field := range linkFields {
		raw := p[field]
		if raw == "" {
			continue
		}
		status := c.Check(ctx, raw)
		status.Field = field
		results = append(results, status)
	}
	return results
}

// Check はrawURLにHEADリクエストを送り、405の場合はGETで再確認する。
// 2xxと3xxを到達可能とみなす。
func (c *LinkChecker) Check(ctx context.Context, rawURL string) LinkStatus {
	status := LinkStatus{URL: rawURL}

	if err := c.validator.ValidateURL(rawURL); err != nil {
		status.Error = err.Error()
		return status
	}

	code, err := c.request(ctx, http.MethodHead, rawURL)
	if err == nil && code == http.StatusMethodNotAllowed {
		code, err = c.request(ctx, http.MethodGet, rawURL)
	}
	if err != nil {
		status.Error = err.Error()
		return status
	}

	status.StatusCode = code
	status.Reachable = code >= 200 && code < 400
	return status
}

func (c *LinkChecker) request(ctx context.Context, method, rawURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "OpenDataCensus-LinkChecker/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	return resp.StatusCode, nil
}
