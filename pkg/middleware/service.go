package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderInternalToken はサービス間の内部API呼び出しでトークンを送るHTTPヘッダーキー。
const HeaderInternalToken = "X-Internal-Token"

// ServiceAuth は内部API向けのサービストークンを検証するGinミドルウェアを返す。
// ユーザーのJWTとは別の資格情報で、tokenが空の場合はすべてのリクエストを拒否する。
func ServiceAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(HeaderInternalToken)
		if token == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "サービストークンが無効です",
			})
			return
		}
		c.Next()
	}
}
