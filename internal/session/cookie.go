package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// CookieCodec はセッションIDをSESSION_SECRETで署名してCookie値に変換する。
// 形式: <id>.<base64url(HMAC-SHA256(id))>
type CookieCodec struct {
	secret []byte
}

// NewCookieCodec はCookieCodecを生成する。
func NewCookieCodec(secret string) *CookieCodec {
	return &CookieCodec{secret: []byte(secret)}
}

// Encode はセッションIDに署名を付与する。
func (c *CookieCodec) Encode(id string) string {
	return id + "." + c.sign(id)
}

// Decode は署名を検証してセッションIDを取り出す。
// 署名がない・一致しない場合はfalseを返す。
func (c *CookieCodec) Decode(value string) (string, bool) {
	id, sig, ok := strings.Cut(value, ".")
	if !ok || id == "" || sig == "" {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(c.sign(id))) {
		return "", false
	}
	return id, true
}

func (c *CookieCodec) sign(id string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
