package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/yuin/goldmark"

	"github.com/hitoshi/opendatacensus/internal/middleware"
	"github.com/hitoshi/opendatacensus/internal/model"
	"github.com/hitoshi/opendatacensus/internal/refdata"
)

//go:embed templates/*.html templates/faq.md
var templateFS embed.FS

// pageNames はlayoutと組み合わせて描画するページテンプレート。
var pageNames = []string{
	"overview.html",
	"place.html",
	"contribute.html",
	"faq.html",
	"login.html",
	"submit.html",
	"review.html",
}

// pageData は全ページ共通のテンプレートデータ。
type pageData struct {
	Title      string
	Country    refdata.Country
	User       *model.User
	IsReviewer bool
	CSRFToken  string
	Flashes    []middleware.FlashMessage
	Content    any
}

// ViewContext はページ描画に必要なリクエスト単位の情報を提供する。
type ViewContext interface {
	Catalog() *refdata.Catalog
	IsReviewer(user *model.User) bool
}

// Renderer は埋め込みHTMLテンプレートでページを描画する。
type Renderer struct {
	pages   map[string]*template.Template
	faqBody template.HTML
	ctx     ViewContext
	signer  *middleware.CookieSigner
}

// NewRenderer はテンプレートを解析し、FAQのMarkdownをHTMLに変換したRendererを生成する。
func NewRenderer(ctx ViewContext, signer *middleware.CookieSigner) (*Renderer, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.ParseFS(templateFS,
			"templates/layout.html",
			"templates/questions.html",
			"templates/"+name,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		pages[name] = tmpl
	}

	source, err := templateFS.ReadFile("templates/faq.md")
	if err != nil {
		return nil, fmt.Errorf("failed to read faq: %w", err)
	}
	var buf bytes.Buffer
	if err := goldmark.Convert(source, &buf); err != nil {
		return nil, fmt.Errorf("failed to render faq: %w", err)
	}

	return &Renderer{
		pages:   pages,
		faqBody: template.HTML(buf.String()),
		ctx:     ctx,
		signer:  signer,
	}, nil
}

// FAQBody は変換済みのFAQ本文を返す。
func (v *Renderer) FAQBody() template.HTML {
	return v.faqBody
}

// Render はページをlayoutに埋め込んで描画する。
// 描画結果はバッファに書き出してから送信するため、テンプレートエラー時は500を返せる。
func (v *Renderer) Render(w http.ResponseWriter, r *http.Request, page, title string, content any) {
	tmpl, ok := v.pages[page]
	if !ok {
		slog.Error("unknown page template", slog.String("page", page))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	user := middleware.UserFromContext(r.Context())
	data := pageData{
		Title:      title,
		Country:    v.ctx.Catalog().Country,
		User:       user,
		IsReviewer: v.ctx.IsReviewer(user),
		CSRFToken:  middleware.CSRFTokenFromContext(r.Context()),
		Flashes:    v.signer.PopFlashes(w, r),
		Content:    content,
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		slog.Error("failed to render page",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}
