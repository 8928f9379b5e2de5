package auth

import (
	"strings"

	"github.com/google/uuid"
)

const GuestPrefix = "guest-"

// Identity 연결의 사용자 식별자
type Identity struct {
	UserID string
	Guest  bool
}

// ResolveIdentity 토큰이 유효하면 해당 사용자, 아니면 게스트.
// guestHint가 "guest-"로 시작하면 재사용하고, 그 외에는 새 게스트 id를 만든다.
func ResolveIdentity(v Verifier, token, guestHint string) (Identity, error) {
	var verifyErr error
	if token != "" {
		userID, err := v.Verify(token)
		if err == nil {
			return Identity{UserID: userID}, nil
		}
		verifyErr = err
	}
	return Guest(guestHint), verifyErr
}

// Guest 게스트 식별자 생성
func Guest(hint string) Identity {
	hint = strings.TrimSpace(hint)
	if strings.HasPrefix(hint, GuestPrefix) && len(hint) > len(GuestPrefix) && len(hint) <= 64 {
		return Identity{UserID: hint, Guest: true}
	}
	return Identity{UserID: GuestPrefix + uuid.NewString(), Guest: true}
}

// IsGuestID 게스트 id 여부
func IsGuestID(userID string) bool {
	return strings.HasPrefix(userID, GuestPrefix)
}
