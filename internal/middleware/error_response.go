package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hitoshi/signon/internal/model"
)

// ErrorResponseBody はJSONを要求したクライアント向けのエラーレスポンス。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// ErrorPageRenderer は汎用エラーページを描画する。view.Rendererが実装する。
type ErrorPageRenderer interface {
	RenderError(w http.ResponseWriter, statusCode int, apiErr *model.APIError)
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// AcceptヘッダーがJSONを要求する場合はJSON、それ以外はエラーページを返す。
// rendererがnilの場合はプレーンテキストで返す。
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, apiErr *model.APIError, renderer ErrorPageRenderer) {
	if r != nil && wantsJSON(r) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(ErrorResponseBody{
			Code:     apiErr.Code,
			Message:  apiErr.Message,
			Category: apiErr.Category,
			Action:   apiErr.Action,
		})
		return
	}

	if renderer == nil {
		http.Error(w, apiErr.Message, statusCode)
		return
	}
	renderer.RenderError(w, statusCode, apiErr)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter, r *http.Request, renderer ErrorPageRenderer) {
	WriteErrorResponse(w, r, http.StatusInternalServerError, model.NewInternalError(), renderer)
}

func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}
