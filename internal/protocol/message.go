package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrMalformed    = errors.New("malformed message")
	ErrUnknownType  = errors.New("unknown message type")
	ErrInvalidShape = errors.New("invalid shape")
)

// Type 와이어 메시지 종류
type Type string

const (
	TypeJoinRoom  Type = "join-room"
	TypeLeaveRoom Type = "leave-room"
	TypeChat      Type = "chat"
	TypeShape     Type = "shape"
	TypeUndo      Type = "undo"
	TypeIdentity  Type = "identity"
	TypeError     Type = "error"
	TypePing      Type = "ping"
	TypePong      Type = "pong"
)

// Known 알려진 메시지 종류인지 확인
func (t Type) Known() bool {
	switch t {
	case TypeJoinRoom, TypeLeaveRoom, TypeChat, TypeShape, TypeUndo,
		TypeIdentity, TypeError, TypePing, TypePong:
		return true
	}
	return false
}

// Envelope 양방향 공통 메시지 봉투 {type, data}
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode 수신 프레임을 봉투로 해석
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if !env.Type.Known() {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return env, nil
}

// Encode data를 봉투에 담아 직렬화
func Encode(t Type, data any) ([]byte, error) {
	env := struct {
		Type Type `json:"type"`
		Data any  `json:"data,omitempty"`
	}{Type: t, Data: data}
	return json.Marshal(env)
}

// Payload 봉투의 data를 v로 해석
func (e Envelope) Payload(v any) error {
	if len(e.Data) == 0 || bytes.Equal(e.Data, []byte("null")) {
		return fmt.Errorf("%w: %s without data", ErrMalformed, e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, e.Type, err)
	}
	return nil
}

// RoomKey 숫자 또는 문자열로 전달되는 방 식별자
type RoomKey string

// UnmarshalJSON JSON number와 string 모두 허용
func (k *RoomKey) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*k = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*k = RoomKey(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("room id must be a number or string: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*k = RoomKey(strconv.FormatInt(i, 10))
		return nil
	}
	// 7.0, 7e0 같은 정수값은 정수 키로 맞춘다
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return fmt.Errorf("room id must be an integer, got %s", n)
	}
	*k = RoomKey(strconv.FormatInt(int64(f), 10))
	return nil
}

// MarshalJSON 10진 정수 키는 number로, 나머지는 string으로 직렬화
func (k RoomKey) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(k), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(k) {
		return []byte(string(k)), nil
	}
	return json.Marshal(string(k))
}

func (k RoomKey) String() string { return string(k) }

// JoinData join-room / leave-room 데이터
type JoinData struct {
	RoomID RoomKey `json:"roomId"`
}

// ChatData chat 데이터
type ChatData struct {
	RoomID  RoomKey `json:"roomId"`
	Message string  `json:"message"`
	UserID  string  `json:"userId,omitempty"`
}

// ShapeData shape 데이터 (interim / final)
type ShapeData struct {
	RoomID RoomKey `json:"roomId"`
	Shape  Shape   `json:"shape"`
	Final  bool    `json:"final"`
	UserID string  `json:"userId,omitempty"`
}

// UndoData undo 데이터
type UndoData struct {
	RoomID  RoomKey `json:"roomId"`
	ShapeID string  `json:"shapeId"`
	UserID  string  `json:"userId,omitempty"`
}

// IdentityData 연결 직후 서버가 알려주는 식별자
type IdentityData struct {
	UserID string `json:"userId"`
	Guest  bool   `json:"guest"`
}

// ErrorData 오류 응답
type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// 오류 코드
const (
	CodeNotJoined    = "NOT_JOINED"
	CodeRoomExpired  = "ROOM_EXPIRED"
	CodeRoomNotFound = "ROOM_NOT_FOUND"
	CodeInternal     = "INTERNAL"
)
