package security

import (
	"net/url"
	"strings"
	"unicode"
)

// maxProfileFieldLen はDBカラム長に合わせたプロフィール文字列の上限（rune数）。
const maxProfileFieldLen = 255

// ProfileSanitizer はIdPから受け取ったプロフィール値を保存前に正規化する。
// 表示名はIdPの値をそのまま保持し（HTMLとしての解釈は表示時のテンプレートが防ぐ）、
// 写真URLは安全でないスキームや内部ホストを指す場合に空にする。
type ProfileSanitizer struct {
	guard *SSRFGuard
}

// NewProfileSanitizer はProfileSanitizerを生成する。
func NewProfileSanitizer(guard *SSRFGuard) *ProfileSanitizer {
	return &ProfileSanitizer{guard: guard}
}

// DisplayName は制御文字と前後の空白を除いた表示名を返す。
// "<"などの記号を含む名前も変更しない。
func (s *ProfileSanitizer) DisplayName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.ToValidUTF8(name, ""))
	return truncate(strings.TrimSpace(cleaned), maxProfileFieldLen)
}

// Email は前後の空白を除去したメールアドレスを返す。
func (s *ProfileSanitizer) Email(email string) string {
	return truncate(strings.TrimSpace(email), 320)
}

// PhotoURL は表示に使える写真URLを返す。使えない場合は空文字列を返す。
// 相対URLはそのまま、絶対URLは公開http(s)ホストを指すもののみ受け付ける。
func (s *ProfileSanitizer) PhotoURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.Scheme == "" && u.Host == "" {
		return raw
	}
	if err := s.guard.ValidatePublicURL(raw); err != nil {
		return ""
	}
	return raw
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
