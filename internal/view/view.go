// Package view はHTMLページの描画と静的ファイルの配信を提供する。
package view

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/hitoshi/signon/internal/model"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static
var staticFS embed.FS

// Renderer は埋め込みテンプレートからページを描画する。
type Renderer struct {
	templates *template.Template
}

// NewRenderer はRendererを生成する。テンプレートの構文エラーはここで返す。
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Renderer{templates: tmpl}, nil
}

// MustNewRenderer はNewRendererを呼び、失敗した場合はpanicする。
func MustNewRenderer() *Renderer {
	r, err := NewRenderer()
	if err != nil {
		panic(err)
	}
	return r
}

type pageData struct {
	User  *model.User
	Error *model.APIError
}

// RenderLanding はトップページを描画する。userがnilでなければホームへのリンクを表示する。
func (r *Renderer) RenderLanding(w http.ResponseWriter, user *model.User) {
	r.render(w, http.StatusOK, "landing.html", pageData{User: user})
}

// RenderHome はログイン中ユーザーの名前・メール・写真を表示する。
func (r *Renderer) RenderHome(w http.ResponseWriter, user *model.User) {
	r.render(w, http.StatusOK, "home.html", pageData{User: user})
}

// RenderError は汎用エラーページを描画する。原因の詳細は表示しない。
func (r *Renderer) RenderError(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	r.render(w, statusCode, "error.html", pageData{Error: apiErr})
}

// render はバッファに描画してから書き込む。描画に失敗した場合は500を返す。
func (r *Renderer) render(w http.ResponseWriter, statusCode int, name string, data pageData) {
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	buf.WriteTo(w)
}

// StaticHandler は/static/配下の埋め込みファイルを配信するハンドラーを返す。
func StaticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}
