package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Anurag-006/SketchSaga/internal/protocol"
)

var ErrHistoryUnavailable = errors.New("shape history unavailable")

const defaultFetchTimeout = 10 * time.Second

type shapesResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Shapes  []protocol.Shape `json:"shapes"`
}

// FetchShapes GET /shapes/:roomId 로 확정 도형 기록 조회
func FetchShapes(ctx context.Context, baseURL string, roomID protocol.RoomKey) ([]protocol.Shape, error) {
	timeout := defaultFetchTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, ctx.Err()
		}
	}

	endpoint := strings.TrimRight(baseURL, "/") + "/shapes/" + url.PathEscape(roomID.String())
	agent := fiber.Get(endpoint).Timeout(timeout)

	var resp shapesResponse
	code, _, errs := agent.Struct(&resp)
	if len(errs) > 0 {
		return nil, fmt.Errorf("fetch shapes of %s: %w", roomID, errors.Join(errs...))
	}
	if code != fiber.StatusOK || !resp.Success {
		return nil, fmt.Errorf("%w: %s returned %d %s", ErrHistoryUnavailable, roomID, code, resp.Message)
	}
	return resp.Shapes, nil
}
