package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// LocalUserID 인증된 사용자 id를 담는 Locals 키
const LocalUserID = "userID"

// BearerToken Authorization 헤더, 쿠키, token 쿼리 순서로 토큰 추출
func BearerToken(c *fiber.Ctx) string {
	if header := c.Get("Authorization"); header != "" {
		if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
			return strings.TrimSpace(header[7:])
		}
		return strings.TrimSpace(header)
	}
	if cookie := c.Cookies("access_token"); cookie != "" {
		return cookie
	}
	return c.Query("token")
}

// OptionalAuthMiddleware 선택적 인증 미들웨어 (인증 실패해도 계속 진행)
func OptionalAuthMiddleware(v Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token := BearerToken(c); token != "" {
			if userID, err := v.Verify(token); err == nil {
				c.Locals(LocalUserID, userID)
			}
		}
		return c.Next()
	}
}

// UserID 미들웨어가 저장한 사용자 id (없으면 빈 문자열)
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}
