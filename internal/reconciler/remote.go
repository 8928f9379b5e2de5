package reconciler

import (
	"sort"
	"time"

	"github.com/Anurag-006/SketchSaga/internal/protocol"
)

// preview 다른 사용자가 그리고 있는 도형의 보간 상태
type preview struct {
	current protocol.Shape
	target  protocol.Shape
	seen    time.Time
}

// HandleEnvelope 서버 브로드캐스트 반영
func (r *Reconciler) HandleEnvelope(env protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeShape:
		var d protocol.ShapeData
		if err := env.Payload(&d); err != nil {
			return err
		}
		r.applyShape(d)
	case protocol.TypeUndo:
		var d protocol.UndoData
		if err := env.Payload(&d); err != nil {
			return err
		}
		r.applyUndo(d)
	case protocol.TypeChat:
		var d protocol.ChatData
		if err := env.Payload(&d); err != nil {
			return err
		}
		if r.opts.OnChat != nil {
			r.opts.OnChat(d)
		}
	case protocol.TypeIdentity:
		var d protocol.IdentityData
		if err := env.Payload(&d); err != nil {
			return err
		}
		r.SetIdentity(d.UserID)
	case protocol.TypeError:
		var d protocol.ErrorData
		if err := env.Payload(&d); err != nil {
			return err
		}
		r.log.WithField("code", d.Code).Warn(d.Message)
	}
	return nil
}

func (r *Reconciler) author(userID string, shape protocol.Shape) string {
	if userID != "" {
		return userID
	}
	return shape.UserID
}

func (r *Reconciler) applyShape(d protocol.ShapeData) {
	author := r.author(d.UserID, d.Shape)
	if author == r.userID {
		return
	}
	if r.isSuppressed(d.Shape.ID) {
		r.log.WithField("shape", d.Shape.ID).Debug("ignoring stale remote update")
		return
	}

	if d.Final {
		if p, ok := r.previews[author]; ok && p.target.ID == d.Shape.ID {
			delete(r.previews, author)
		}
		r.commit(d.Shape)
		return
	}

	p, ok := r.previews[author]
	if !ok || p.target.ID != d.Shape.ID || d.Shape.Geometry.Kind() == protocol.KindPencil {
		// 처음 보는 도형과 자유곡선은 보간 없이 바로 그린다
		r.previews[author] = &preview{current: d.Shape, target: d.Shape, seen: r.opts.Now()}
		return
	}
	p.target = d.Shape
	p.seen = r.opts.Now()
}

// applyUndo 같은 undo를 여러 번 받아도 결과는 같다
func (r *Reconciler) applyUndo(d protocol.UndoData) {
	if d.UserID != "" && d.UserID == r.userID {
		return
	}
	r.remove(d.ShapeID)
	for author, p := range r.previews {
		if p.target.ID == d.ShapeID {
			delete(r.previews, author)
		}
	}
}

// Tick 렌더 프레임마다 호출. 보간 중인 도형을 목표 쪽으로 smoothing만큼 이동한다.
func (r *Reconciler) Tick() {
	now := r.opts.Now()
	for id, until := range r.suppressed {
		if !now.Before(until) {
			delete(r.suppressed, id)
		}
	}

	for author, p := range r.previews {
		// 그리던 중 연결이 끊긴 작성자
		if now.Sub(p.seen) > r.opts.PreviewTimeout {
			delete(r.previews, author)
			continue
		}
		geo := p.current.Geometry.Lerp(p.target.Geometry, r.opts.Smoothing)
		p.current = p.target.WithGeometry(geo)
	}
}

// Previews 보간 중인 원격 도형 (작성자 순)
func (r *Reconciler) Previews() []protocol.Shape {
	authors := make([]string, 0, len(r.previews))
	for author := range r.previews {
		authors = append(authors, author)
	}
	sort.Strings(authors)

	out := make([]protocol.Shape, len(authors))
	for i, author := range authors {
		out[i] = r.previews[author].current
	}
	return out
}

// Preview 특정 작성자의 보간 중인 도형
func (r *Reconciler) Preview(author string) (protocol.Shape, bool) {
	p, ok := r.previews[author]
	if !ok {
		return protocol.Shape{}, false
	}
	return p.current, true
}

func (r *Reconciler) suppress(id string) {
	r.suppressed[id] = r.opts.Now().Add(r.opts.SuppressWindow)
}

func (r *Reconciler) isSuppressed(id string) bool {
	until, ok := r.suppressed[id]
	return ok && r.opts.Now().Before(until)
}
