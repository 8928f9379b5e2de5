package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapeJSON_Flat(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Geometry
	}{
		{
			name: "rect",
			raw:  `{"id":"A","userId":"u1","type":"rect","color":"#fff","strokeWidth":2,"x":1,"y":2,"width":30,"height":40}`,
			want: Rect{X: 1, Y: 2, Width: 30, Height: 40},
		},
		{
			name: "circle",
			raw:  `{"id":"B","type":"circle","x":5,"y":6,"radiusX":3,"radiusY":4,"rotation":0,"startAngle":0,"endAngle":6.28}`,
			want: Circle{X: 5, Y: 6, RadiusX: 3, RadiusY: 4, EndAngle: 6.28},
		},
		{
			name: "line",
			raw:  `{"id":"C","type":"line","x1":0,"y1":0,"x2":10,"y2":10}`,
			want: Line{X2: 10, Y2: 10},
		},
		{
			name: "pencil",
			raw:  `{"id":"D","type":"pencil","points":[{"x":1,"y":1},{"x":2,"y":3}]}`,
			want: Pencil{Points: []Point{{1, 1}, {2, 3}}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var s Shape
			require.NoError(t, json.Unmarshal([]byte(tc.raw), &s))
			assert.Equal(t, tc.want, s.Geometry)
			require.NoError(t, s.Validate())

			out, err := json.Marshal(s)
			require.NoError(t, err)
			assert.JSONEq(t, tc.raw, string(out))
		})
	}
}

func TestShapeJSON_RejectsUnknownType(t *testing.T) {
	var s Shape
	err := json.Unmarshal([]byte(`{"id":"A","type":"triangle"}`), &s)
	assert.ErrorIs(t, err, ErrInvalidShape)
}

func TestShape_Validate(t *testing.T) {
	assert.ErrorIs(t, Shape{Geometry: Rect{}}.Validate(), ErrInvalidShape)
	assert.ErrorIs(t, Shape{ID: "A"}.Validate(), ErrInvalidShape)
	assert.ErrorIs(t, Shape{ID: "A", Geometry: Pencil{}}.Validate(), ErrInvalidShape)
	assert.ErrorIs(t, Shape{ID: "A", Geometry: Circle{RadiusX: -1}}.Validate(), ErrInvalidShape)
	assert.NoError(t, Shape{ID: "A", Geometry: Line{X2: 1}}.Validate())
}

func TestGeometry_LerpAndTranslate(t *testing.T) {
	r := Rect{X: 100, Y: 0, Width: 10, Height: 10}
	got := r.Lerp(Rect{X: 0, Y: 0, Width: 20, Height: 10}, 0.2)
	assert.Equal(t, Rect{X: 80, Y: 0, Width: 12, Height: 10}, got)

	l := Line{X1: 0, Y1: 0, X2: 10, Y2: 0}.Translate(5, 5)
	assert.Equal(t, Line{X1: 5, Y1: 5, X2: 15, Y2: 5}, l)

	p := Pencil{Points: []Point{{1, 1}}}
	target := Pencil{Points: []Point{{1, 1}, {9, 9}, {20, 20}}}
	assert.Equal(t, target, p.Lerp(target, 0.2))

	// 종류가 다르면 목표값 그대로
	assert.Equal(t, Line{X2: 1}, r.Lerp(Line{X2: 1}, 0.2))
}

func TestRoomKey(t *testing.T) {
	var d JoinData
	require.NoError(t, json.Unmarshal([]byte(`{"roomId":7}`), &d))
	assert.Equal(t, RoomKey("7"), d.RoomID)

	require.NoError(t, json.Unmarshal([]byte(`{"roomId":"room-482913"}`), &d))
	assert.Equal(t, RoomKey("room-482913"), d.RoomID)

	out, err := json.Marshal(JoinData{RoomID: "7"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"roomId":7}`, string(out))

	out, err = json.Marshal(JoinData{RoomID: "007"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"roomId":"007"}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"roomId":true}`), &d))
}

func TestRoomKey_IntegralNumbersAreDurableKeys(t *testing.T) {
	for _, raw := range []string{`7.0`, `7e0`, `70e-1`} {
		var d JoinData
		require.NoError(t, json.Unmarshal([]byte(`{"roomId":`+raw+`}`), &d), raw)
		assert.Equal(t, RoomKey("7"), d.RoomID, raw)
	}

	var d JoinData
	assert.Error(t, json.Unmarshal([]byte(`{"roomId":7.5}`), &d))
	assert.Error(t, json.Unmarshal([]byte(`{"roomId":1e300}`), &d))
}

func TestDecode(t *testing.T) {
	env, err := Decode([]byte(`{"type":"chat","data":{"roomId":7,"message":"hello"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeChat, env.Type)

	var chat ChatData
	require.NoError(t, env.Payload(&chat))
	assert.Equal(t, "hello", chat.Message)

	_, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`{"type":"explode"}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	env, err = Decode([]byte(`{"type":"join-room"}`))
	require.NoError(t, err)
	assert.ErrorIs(t, env.Payload(&JoinData{}), ErrMalformed)
}

func TestEncode(t *testing.T) {
	raw, err := Encode(TypeUndo, UndoData{RoomID: "room-1", ShapeID: "A", UserID: "u1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"undo","data":{"roomId":"room-1","shapeId":"A","userId":"u1"}}`, string(raw))

	raw, err = Encode(TypePong, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(raw))
}
