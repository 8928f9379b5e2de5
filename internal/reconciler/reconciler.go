package reconciler

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Anurag-006/SketchSaga/internal/protocol"
)

var (
	ErrBusy          = errors.New("interaction in progress")
	ErrToolMismatch  = errors.New("tool does not support this interaction")
	ErrShapeNotFound = errors.New("shape not found")
)

const (
	DefaultSmoothing      = 0.2
	DefaultSuppressWindow = 500 * time.Millisecond
	// DefaultPreviewTimeout 이 시간 동안 갱신이 없는 원격 미리보기는 지운다
	DefaultPreviewTimeout = 4 * DefaultSuppressWindow
)

// State 로컬 작성 상태
type State int

const (
	StateIdle State = iota
	StateDrawing
	StateSelected
)

func (s State) String() string {
	switch s {
	case StateDrawing:
		return "drawing"
	case StateSelected:
		return "selected"
	default:
		return "idle"
	}
}

// Tool 현재 도구
type Tool string

const (
	ToolSelect Tool = "select"
	ToolRect   Tool = Tool(protocol.KindRect)
	ToolCircle Tool = Tool(protocol.KindCircle)
	ToolLine   Tool = Tool(protocol.KindLine)
	ToolPencil Tool = Tool(protocol.KindPencil)
)

func (t Tool) valid() bool {
	switch t {
	case ToolSelect, ToolRect, ToolCircle, ToolLine, ToolPencil:
		return true
	}
	return false
}

// Sender 서버로 메시지를 보내는 쪽 (fire-and-forget)
type Sender interface {
	Send(t protocol.Type, data any) error
}

// Options Reconciler 설정. 0 값은 기본값으로 채운다.
type Options struct {
	Smoothing      float64
	SuppressWindow time.Duration
	PreviewTimeout time.Duration
	Now            func() time.Time
	NewID          func() string
	OnChat         func(protocol.ChatData)
}

// Reconciler 한 연결의 캔버스 상태. 단일 고루틴에서만 호출해야 한다.
type Reconciler struct {
	userID string
	roomID protocol.RoomKey
	sender Sender
	opts   Options
	log    *logrus.Entry

	state State
	tool  Tool
	color string
	width float64

	shapes []protocol.Shape
	undone []protocol.Shape

	// 작성/선택 중인 도형
	draft        protocol.Shape
	startX       float64
	startY       float64
	lastX, lastY float64

	suppressed map[string]time.Time
	previews   map[string]*preview
}

// New Reconciler 생성
func New(userID string, roomID protocol.RoomKey, sender Sender, opts Options) *Reconciler {
	if opts.Smoothing <= 0 || opts.Smoothing > 1 {
		opts.Smoothing = DefaultSmoothing
	}
	if opts.SuppressWindow <= 0 {
		opts.SuppressWindow = DefaultSuppressWindow
	}
	if opts.PreviewTimeout <= 0 {
		opts.PreviewTimeout = DefaultPreviewTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Reconciler{
		userID:     userID,
		roomID:     roomID,
		sender:     sender,
		opts:       opts,
		log:        logrus.WithFields(logrus.Fields{"component": "reconciler", "room": roomID.String()}),
		tool:       ToolRect,
		color:      "#ffffff",
		width:      2,
		suppressed: make(map[string]time.Time),
		previews:   make(map[string]*preview),
	}
}

// UserID 로컬 식별자
func (r *Reconciler) UserID() string { return r.userID }

// Room 방 식별자
func (r *Reconciler) Room() protocol.RoomKey { return r.roomID }

// SetIdentity 서버가 알려준 식별자로 교체
func (r *Reconciler) SetIdentity(userID string) {
	r.userID = userID
}

func (r *Reconciler) State() State { return r.state }
func (r *Reconciler) Tool() Tool   { return r.tool }

// SetTool idle 상태에서만 도구 변경 가능
func (r *Reconciler) SetTool(t Tool) error {
	if !t.valid() {
		return ErrToolMismatch
	}
	if r.state != StateIdle {
		return ErrBusy
	}
	r.tool = t
	return nil
}

// SetStyle 이후 작성하는 도형의 색과 두께
func (r *Reconciler) SetStyle(color string, strokeWidth float64) {
	r.color = color
	r.width = strokeWidth
}

// LoadHistory 기록 조회 결과로 컬렉션 초기화
func (r *Reconciler) LoadHistory(shapes []protocol.Shape) {
	r.shapes = append(make([]protocol.Shape, 0, len(shapes)), shapes...)
	r.previews = make(map[string]*preview)
}

// Shapes 확정된 도형 사본 (그리는 순서)
func (r *Reconciler) Shapes() []protocol.Shape {
	return append([]protocol.Shape(nil), r.shapes...)
}

// Shape id로 확정 도형 조회
func (r *Reconciler) Shape(id string) (protocol.Shape, bool) {
	if i := r.indexOf(id); i >= 0 {
		return r.shapes[i], true
	}
	return protocol.Shape{}, false
}

// Draft 작성 또는 선택 중인 도형
func (r *Reconciler) Draft() (protocol.Shape, bool) {
	if r.state == StateIdle {
		return protocol.Shape{}, false
	}
	return r.draft, true
}

// Begin 현재 도구로 새 도형 작성 시작
func (r *Reconciler) Begin(x, y float64) error {
	if r.state != StateIdle {
		return ErrBusy
	}
	var geo protocol.Geometry
	switch r.tool {
	case ToolRect:
		geo = protocol.Rect{X: x, Y: y}
	case ToolCircle:
		geo = protocol.Circle{X: x, Y: y, EndAngle: 2 * math.Pi}
	case ToolLine:
		geo = protocol.Line{X1: x, Y1: y, X2: x, Y2: y}
	case ToolPencil:
		geo = protocol.Pencil{Points: []protocol.Point{{X: x, Y: y}}}
	default:
		return ErrToolMismatch
	}

	r.draft = protocol.Shape{
		ID:          r.opts.NewID(),
		UserID:      r.userID,
		Color:       r.color,
		StrokeWidth: r.width,
		Geometry:    geo,
	}
	r.startX, r.startY = x, y
	r.state = StateDrawing
	return nil
}

// Select 확정 도형을 잡는다 (hit-test는 호출하는 쪽 책임)
func (r *Reconciler) Select(id string, x, y float64) error {
	if r.state != StateIdle {
		return ErrBusy
	}
	if r.tool != ToolSelect {
		return ErrToolMismatch
	}
	i := r.indexOf(id)
	if i < 0 {
		return ErrShapeNotFound
	}

	r.draft = r.shapes[i]
	r.lastX, r.lastY = x, y
	r.state = StateSelected
	return nil
}

// Move 포인터 이동. 작성 중이면 모양을, 선택 중이면 위치를 바꾸고 interim을 보낸다.
func (r *Reconciler) Move(x, y float64) {
	switch r.state {
	case StateDrawing:
		r.draft = r.draft.WithGeometry(r.stretch(x, y))
		r.sendShape(r.draft, false)
	case StateSelected:
		r.draft = r.draft.WithGeometry(r.draft.Geometry.Translate(x-r.lastX, y-r.lastY))
		r.lastX, r.lastY = x, y
		// 자유곡선 이동은 중간 전송하지 않는다
		if r.draft.Geometry.Kind() != protocol.KindPencil {
			r.sendShape(r.draft, false)
		}
	}
}

func (r *Reconciler) stretch(x, y float64) protocol.Geometry {
	dx, dy := x-r.startX, y-r.startY
	switch g := r.draft.Geometry.(type) {
	case protocol.Rect:
		return protocol.Rect{X: r.startX, Y: r.startY, Width: dx, Height: dy}
	case protocol.Circle:
		g.X, g.Y = r.startX+dx/2, r.startY+dy/2
		g.RadiusX, g.RadiusY = math.Abs(dx)/2, math.Abs(dy)/2
		return g
	case protocol.Line:
		g.X2, g.Y2 = x, y
		return g
	case protocol.Pencil:
		pts := append(make([]protocol.Point, 0, len(g.Points)+1), g.Points...)
		return protocol.Pencil{Points: append(pts, protocol.Point{X: x, Y: y})}
	default:
		return g
	}
}

// End 작성 또는 선택을 확정한다. idle이면 false.
func (r *Reconciler) End() (protocol.Shape, bool) {
	switch r.state {
	case StateDrawing:
		r.undone = nil
	case StateSelected:
	default:
		return protocol.Shape{}, false
	}

	shape := r.draft
	r.state = StateIdle
	r.draft = protocol.Shape{}
	r.commit(shape)
	r.suppress(shape.ID)
	r.sendShape(shape, true)
	return shape, true
}

// Cancel 진행 중인 작성/선택을 버린다
func (r *Reconciler) Cancel() {
	r.state = StateIdle
	r.draft = protocol.Shape{}
}

// Undo 내가 마지막으로 확정한 도형 제거
func (r *Reconciler) Undo() (string, bool) {
	for i := len(r.shapes) - 1; i >= 0; i-- {
		if r.shapes[i].UserID != r.userID {
			continue
		}
		shape := r.shapes[i]
		r.shapes = append(r.shapes[:i], r.shapes[i+1:]...)
		r.undone = append(r.undone, shape)
		r.send(protocol.TypeUndo, protocol.UndoData{
			RoomID:  r.roomID,
			ShapeID: shape.ID,
			UserID:  r.userID,
		})
		return shape.ID, true
	}
	return "", false
}

// Redo 마지막 Undo를 같은 id로 다시 확정
func (r *Reconciler) Redo() (string, bool) {
	if len(r.undone) == 0 {
		return "", false
	}
	shape := r.undone[len(r.undone)-1]
	r.undone = r.undone[:len(r.undone)-1]

	r.commit(shape)
	r.suppress(shape.ID)
	r.sendShape(shape, true)
	return shape.ID, true
}

// CanRedo redo 스택이 비어 있지 않은지
func (r *Reconciler) CanRedo() bool { return len(r.undone) > 0 }

// commit 같은 id가 있으면 제거하고 맨 위에 올린다
func (r *Reconciler) commit(shape protocol.Shape) {
	r.remove(shape.ID)
	r.shapes = append(r.shapes, shape)
}

func (r *Reconciler) remove(id string) bool {
	i := r.indexOf(id)
	if i < 0 {
		return false
	}
	r.shapes = append(r.shapes[:i], r.shapes[i+1:]...)
	return true
}

func (r *Reconciler) indexOf(id string) int {
	for i := range r.shapes {
		if r.shapes[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Reconciler) sendShape(shape protocol.Shape, final bool) {
	r.send(protocol.TypeShape, protocol.ShapeData{
		RoomID: r.roomID,
		Shape:  shape,
		Final:  final,
		UserID: r.userID,
	})
}

func (r *Reconciler) send(t protocol.Type, data any) {
	if r.sender == nil {
		return
	}
	if err := r.sender.Send(t, data); err != nil {
		r.log.WithError(err).WithField("type", t).Warn("send failed")
	}
}
