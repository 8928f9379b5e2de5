package protocol

import (
	"encoding/json"
	"fmt"
	"math"
)

// Kind 도형 종류 (와이어의 "type" 필드)
type Kind string

const (
	KindRect   Kind = "rect"
	KindCircle Kind = "circle"
	KindLine   Kind = "line"
	KindPencil Kind = "pencil"
)

// Geometry 도형 종류별 좌표. Rect, Circle, Line, Pencil만 구현한다.
type Geometry interface {
	Kind() Kind
	Validate() error
	// Lerp 현재 값에서 to 방향으로 t 비율만큼 이동한 값
	Lerp(to Geometry, t float64) Geometry
	Translate(dx, dy float64) Geometry
	isGeometry()
}

var decoders = map[Kind]func([]byte) (Geometry, error){
	KindRect:   decodeAs[Rect],
	KindCircle: decodeAs[Circle],
	KindLine:   decodeAs[Line],
	KindPencil: decodeAs[Pencil],
}

func decodeAs[T Geometry](raw []byte) (Geometry, error) {
	var g T
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	return g, nil
}

// Shape 와이어/저장 공통 도형
type Shape struct {
	ID          string
	UserID      string
	Color       string
	StrokeWidth float64
	Geometry    Geometry
}

type shapeHeader struct {
	ID          string  `json:"id"`
	UserID      string  `json:"userId,omitempty"`
	Type        Kind    `json:"type"`
	Color       string  `json:"color,omitempty"`
	StrokeWidth float64 `json:"strokeWidth,omitempty"`
}

// MarshalJSON 공통 필드와 좌표 필드를 한 객체로 평탄화
func (s Shape) MarshalJSON() ([]byte, error) {
	if s.Geometry == nil {
		return nil, fmt.Errorf("%w: shape %q has no geometry", ErrInvalidShape, s.ID)
	}
	geo, err := json.Marshal(s.Geometry)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(geo, &fields); err != nil {
		return nil, err
	}
	head, err := json.Marshal(shapeHeader{
		ID:          s.ID,
		UserID:      s.UserID,
		Type:        s.Geometry.Kind(),
		Color:       s.Color,
		StrokeWidth: s.StrokeWidth,
	})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(head, &fields); err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// UnmarshalJSON "type"에 따라 좌표 타입을 결정
func (s *Shape) UnmarshalJSON(b []byte) error {
	var head shapeHeader
	if err := json.Unmarshal(b, &head); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	decode, ok := decoders[head.Type]
	if !ok {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidShape, head.Type)
	}
	geo, err := decode(b)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidShape, head.Type, err)
	}
	*s = Shape{
		ID:          head.ID,
		UserID:      head.UserID,
		Color:       head.Color,
		StrokeWidth: head.StrokeWidth,
		Geometry:    geo,
	}
	return nil
}

// Validate 식별자와 좌표 검증
func (s Shape) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidShape)
	}
	if s.Geometry == nil {
		return fmt.Errorf("%w: missing geometry", ErrInvalidShape)
	}
	if !finite(s.StrokeWidth) || s.StrokeWidth < 0 {
		return fmt.Errorf("%w: stroke width %v", ErrInvalidShape, s.StrokeWidth)
	}
	return s.Geometry.Validate()
}

// WithGeometry 좌표만 바꾼 사본
func (s Shape) WithGeometry(g Geometry) Shape {
	s.Geometry = g
	return s
}

// Point 자유곡선 좌표
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect 사각형
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (Rect) Kind() Kind  { return KindRect }
func (Rect) isGeometry() {}

func (r Rect) Validate() error {
	return checkFinite(KindRect, r.X, r.Y, r.Width, r.Height)
}

func (r Rect) Lerp(to Geometry, t float64) Geometry {
	dst, ok := to.(Rect)
	if !ok {
		return to
	}
	return Rect{
		X:      lerp(r.X, dst.X, t),
		Y:      lerp(r.Y, dst.Y, t),
		Width:  lerp(r.Width, dst.Width, t),
		Height: lerp(r.Height, dst.Height, t),
	}
}

func (r Rect) Translate(dx, dy float64) Geometry {
	r.X += dx
	r.Y += dy
	return r
}

// Circle 타원 (원은 RadiusX == RadiusY)
type Circle struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	RadiusX    float64 `json:"radiusX"`
	RadiusY    float64 `json:"radiusY"`
	Rotation   float64 `json:"rotation"`
	StartAngle float64 `json:"startAngle"`
	EndAngle   float64 `json:"endAngle"`
}

func (Circle) Kind() Kind  { return KindCircle }
func (Circle) isGeometry() {}

func (c Circle) Validate() error {
	if err := checkFinite(KindCircle, c.X, c.Y, c.RadiusX, c.RadiusY, c.Rotation, c.StartAngle, c.EndAngle); err != nil {
		return err
	}
	if c.RadiusX < 0 || c.RadiusY < 0 {
		return fmt.Errorf("%w: circle radius must not be negative", ErrInvalidShape)
	}
	return nil
}

func (c Circle) Lerp(to Geometry, t float64) Geometry {
	dst, ok := to.(Circle)
	if !ok {
		return to
	}
	return Circle{
		X:          lerp(c.X, dst.X, t),
		Y:          lerp(c.Y, dst.Y, t),
		RadiusX:    lerp(c.RadiusX, dst.RadiusX, t),
		RadiusY:    lerp(c.RadiusY, dst.RadiusY, t),
		Rotation:   lerp(c.Rotation, dst.Rotation, t),
		StartAngle: lerp(c.StartAngle, dst.StartAngle, t),
		EndAngle:   lerp(c.EndAngle, dst.EndAngle, t),
	}
}

func (c Circle) Translate(dx, dy float64) Geometry {
	c.X += dx
	c.Y += dy
	return c
}

// Line 직선
type Line struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

func (Line) Kind() Kind  { return KindLine }
func (Line) isGeometry() {}

func (l Line) Validate() error {
	return checkFinite(KindLine, l.X1, l.Y1, l.X2, l.Y2)
}

func (l Line) Lerp(to Geometry, t float64) Geometry {
	dst, ok := to.(Line)
	if !ok {
		return to
	}
	return Line{
		X1: lerp(l.X1, dst.X1, t),
		Y1: lerp(l.Y1, dst.Y1, t),
		X2: lerp(l.X2, dst.X2, t),
		Y2: lerp(l.Y2, dst.Y2, t),
	}
}

func (l Line) Translate(dx, dy float64) Geometry {
	l.X1 += dx
	l.Y1 += dy
	l.X2 += dx
	l.Y2 += dy
	return l
}

// Pencil 자유곡선. 길이가 가변이라 보간하지 않고 통째로 교체한다.
type Pencil struct {
	Points []Point `json:"points"`
}

func (Pencil) Kind() Kind  { return KindPencil }
func (Pencil) isGeometry() {}

func (p Pencil) Validate() error {
	if len(p.Points) == 0 {
		return fmt.Errorf("%w: pencil without points", ErrInvalidShape)
	}
	for _, pt := range p.Points {
		if err := checkFinite(KindPencil, pt.X, pt.Y); err != nil {
			return err
		}
	}
	return nil
}

func (p Pencil) Lerp(to Geometry, _ float64) Geometry {
	return to
}

func (p Pencil) Translate(dx, dy float64) Geometry {
	pts := make([]Point, len(p.Points))
	for i, pt := range p.Points {
		pts[i] = Point{X: pt.X + dx, Y: pt.Y + dy}
	}
	return Pencil{Points: pts}
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func checkFinite(kind Kind, vs ...float64) error {
	for _, v := range vs {
		if !finite(v) {
			return fmt.Errorf("%w: %s has non-finite coordinate", ErrInvalidShape, kind)
		}
	}
	return nil
}
