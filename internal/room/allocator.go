package room

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"

	"github.com/sirupsen/logrus"
)

var ErrAllocationExhausted = errors.New("room code allocation exhausted")

const DefaultMaxAttempts = 5

// SlugIndex durable 저장소의 slug 사용 여부 조회
type SlugIndex interface {
	SlugTaken(ctx context.Context, slug string) (bool, error)
}

// ClaimIndex ephemeral 방 점유(room:<slug>:active) 조회
type ClaimIndex interface {
	IsActive(ctx context.Context, slug string) (bool, error)
}

// Allocator 두 저장 계층 모두에서 유일한 방 코드 발급
type Allocator struct {
	durable     SlugIndex
	claims      ClaimIndex
	maxAttempts int
	generate    func() string
	log         *logrus.Entry
}

// NewAllocator Allocator 생성 (maxAttempts <= 0 이면 기본값)
func NewAllocator(durable SlugIndex, claims ClaimIndex, maxAttempts int) *Allocator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Allocator{
		durable:     durable,
		claims:      claims,
		maxAttempts: maxAttempts,
		generate:    RandomCode,
		log:         logrus.WithField("component", "allocator"),
	}
}

// RandomCode "room-" + 6자리 숫자
func RandomCode() string {
	return "room-" + strconv.Itoa(100000+rand.Intn(900000))
}

// Allocate 충돌하지 않는 slug를 찾을 때까지 최대 maxAttempts번 시도
func (a *Allocator) Allocate(ctx context.Context) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		slug := a.generate()
		taken, err := a.taken(ctx, slug)
		if err != nil {
			lastErr = err
			a.log.WithError(err).WithFields(logrus.Fields{"slug": slug, "attempt": attempt}).Warn("room code check failed")
			continue
		}
		if !taken {
			return slug, nil
		}
		a.log.WithFields(logrus.Fields{"slug": slug, "attempt": attempt}).Debug("room code collision")
	}

	if lastErr != nil {
		return "", fmt.Errorf("%w after %d attempts: %w", ErrAllocationExhausted, a.maxAttempts, lastErr)
	}
	return "", fmt.Errorf("%w after %d attempts", ErrAllocationExhausted, a.maxAttempts)
}

func (a *Allocator) taken(ctx context.Context, slug string) (bool, error) {
	inDurable, err := a.durable.SlugTaken(ctx, slug)
	if err != nil {
		return false, fmt.Errorf("durable lookup: %w", err)
	}
	if inDurable {
		return true, nil
	}
	claimed, err := a.claims.IsActive(ctx, slug)
	if err != nil {
		return false, fmt.Errorf("claim lookup: %w", err)
	}
	return claimed, nil
}
