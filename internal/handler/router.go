package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Anurag-006/SketchSaga/internal/fanout"
	"github.com/Anurag-006/SketchSaga/internal/protocol"
	"github.com/Anurag-006/SketchSaga/internal/room"
	"github.com/Anurag-006/SketchSaga/internal/session"
	"github.com/Anurag-006/SketchSaga/internal/store"
	"github.com/Anurag-006/SketchSaga/internal/worker"
)

var ErrNotJoined = errors.New("room not joined")

// MaxChatBytes 채팅 메시지 최대 길이
const MaxChatBytes = 2000

// Submitter 방 단위 순서를 지키는 저장 작업 큐
type Submitter interface {
	Submit(ctx context.Context, key string, job worker.Job) error
}

// Router 수신 메시지를 해석해 fanout으로 발행하고 저장 작업을 큐에 넣는다.
// 발행이 저장보다 먼저이며, 저장 실패는 이미 나간 브로드캐스트를 되돌리지 않는다.
type Router struct {
	registry *room.Registry
	bus      fanout.Bus
	gateway  *store.Gateway
	persist  Submitter
	log      *logrus.Entry
}

// NewRouter Router 생성
func NewRouter(registry *room.Registry, bus fanout.Bus, gateway *store.Gateway, persist Submitter) *Router {
	return &Router{
		registry: registry,
		bus:      bus,
		gateway:  gateway,
		persist:  persist,
		log:      logrus.WithField("component", "router"),
	}
}

// Handle 한 프레임 처리. 어떤 실패도 연결을 끊지 않는다.
func (r *Router) Handle(ctx context.Context, sess *session.Session, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		r.log.WithError(err).WithField("conn", sess.ID()).Debug("dropping message")
		return
	}

	switch env.Type {
	case protocol.TypeJoinRoom:
		err = r.join(ctx, sess, env)
	case protocol.TypeLeaveRoom:
		err = r.leave(sess, env)
	case protocol.TypeChat:
		err = r.chat(sess, env)
	case protocol.TypeShape:
		err = r.shape(sess, env)
	case protocol.TypeUndo:
		err = r.undo(sess, env)
	case protocol.TypePing:
		r.reply(sess, protocol.TypePong, nil)
	default:
		r.log.WithFields(logrus.Fields{"conn": sess.ID(), "type": env.Type}).Debug("ignoring server-only message type")
	}

	if err != nil {
		r.fail(sess, env.Type, err)
	}
}

func (r *Router) join(ctx context.Context, sess *session.Session, env protocol.Envelope) error {
	var d protocol.JoinData
	if err := env.Payload(&d); err != nil {
		return err
	}
	ref, err := r.classify(sess, d.RoomID)
	if err != nil {
		return err
	}

	if ref.Kind == room.KindEphemeral {
		if err := r.gateway.Ephemeral().Claim(ctx, ref.Key); err != nil {
			return err
		}
	}
	if err := r.registry.Join(ctx, ref.Key, sess); err != nil {
		return err
	}
	sess.Remember(ref)

	r.log.WithFields(logrus.Fields{
		"conn": sess.ID(),
		"user": sess.UserID(),
		"room": ref.Key,
		"kind": ref.Kind,
	}).Info("joined room")
	return nil
}

// classify 이미 참여한 방이면 저장된 참조를 재사용
func (r *Router) classify(sess *session.Session, key protocol.RoomKey) (room.Ref, error) {
	if ref, ok := sess.Ref(key.String()); ok {
		return ref, nil
	}
	ref, err := room.Classify(key.String())
	if err != nil {
		return room.Ref{}, fmt.Errorf("%w: %v", protocol.ErrMalformed, err)
	}
	return ref, nil
}

func (r *Router) leave(sess *session.Session, env protocol.Envelope) error {
	var d protocol.JoinData
	if err := env.Payload(&d); err != nil {
		return err
	}
	if d.RoomID == "" {
		return fmt.Errorf("%w: missing roomId", protocol.ErrMalformed)
	}

	r.registry.Leave(d.RoomID.String(), sess)
	sess.Forget(d.RoomID.String())
	return nil
}

func (r *Router) joined(sess *session.Session, key protocol.RoomKey) (room.Ref, error) {
	if key == "" {
		return room.Ref{}, fmt.Errorf("%w: missing roomId", protocol.ErrMalformed)
	}
	ref, ok := sess.Ref(key.String())
	if !ok {
		return room.Ref{}, fmt.Errorf("%w: %s", ErrNotJoined, key)
	}
	return ref, nil
}

func (r *Router) chat(sess *session.Session, env protocol.Envelope) error {
	var d protocol.ChatData
	if err := env.Payload(&d); err != nil {
		return err
	}
	ref, err := r.joined(sess, d.RoomID)
	if err != nil {
		return err
	}
	msg := truncateUTF8(strings.TrimSpace(d.Message), MaxChatBytes)
	if msg == "" {
		return fmt.Errorf("%w: empty chat message", protocol.ErrMalformed)
	}

	userID := sess.UserID()
	if err := r.publish(ref, protocol.TypeChat, protocol.ChatData{
		RoomID:  protocol.RoomKey(ref.Key),
		Message: msg,
		UserID:  userID,
	}); err != nil {
		return err
	}

	r.enqueue(sess, ref, "chat", func(ctx context.Context) error {
		return r.gateway.AppendChat(ctx, ref, userID, msg)
	})
	return nil
}

func (r *Router) shape(sess *session.Session, env protocol.Envelope) error {
	var d protocol.ShapeData
	if err := env.Payload(&d); err != nil {
		return err
	}
	if err := d.Shape.Validate(); err != nil {
		return err
	}
	ref, err := r.joined(sess, d.RoomID)
	if err != nil {
		return err
	}

	// 보낸 사람은 userId, 소유자는 shape.userId. 남의 도형을 옮겨도 소유자는 그대로다.
	shape := d.Shape
	if shape.UserID == "" {
		shape.UserID = sess.UserID()
	}
	if err := r.publish(ref, protocol.TypeShape, protocol.ShapeData{
		RoomID: protocol.RoomKey(ref.Key),
		Shape:  shape,
		Final:  d.Final,
		UserID: sess.UserID(),
	}); err != nil {
		return err
	}

	// interim은 저장하지 않는다
	if !d.Final {
		return nil
	}
	r.enqueue(sess, ref, "shape", func(ctx context.Context) error {
		return r.gateway.AppendShape(ctx, ref, shape)
	})
	return nil
}

func (r *Router) undo(sess *session.Session, env protocol.Envelope) error {
	var d protocol.UndoData
	if err := env.Payload(&d); err != nil {
		return err
	}
	if d.ShapeID == "" {
		return fmt.Errorf("%w: missing shapeId", protocol.ErrMalformed)
	}
	ref, err := r.joined(sess, d.RoomID)
	if err != nil {
		return err
	}

	if err := r.publish(ref, protocol.TypeUndo, protocol.UndoData{
		RoomID:  protocol.RoomKey(ref.Key),
		ShapeID: d.ShapeID,
		UserID:  sess.UserID(),
	}); err != nil {
		return err
	}

	shapeID := d.ShapeID
	r.enqueue(sess, ref, "undo", func(ctx context.Context) error {
		return r.gateway.DeleteShape(ctx, ref, shapeID)
	})
	return nil
}

func (r *Router) publish(ref room.Ref, t protocol.Type, data any) error {
	payload, err := protocol.Encode(t, data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t, err)
	}
	r.bus.Publish(room.ChannelFor(ref.Key), payload)
	return nil
}

// enqueue 저장 작업 제출. 실패 시 보낸 사람에게 오류를 알린다.
func (r *Router) enqueue(sess *session.Session, ref room.Ref, op string, job worker.Job) {
	err := r.persist.Submit(sess.Context(), ref.Key, func(ctx context.Context) error {
		if err := job(ctx); err != nil {
			r.reply(sess, protocol.TypeError, protocol.ErrorData{
				Message: op + " was not saved",
				Code:    persistCode(err),
			})
			return fmt.Errorf("persist %s in %s room %s: %w", op, ref.Kind, ref.Key, err)
		}
		return nil
	})
	if err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{"room": ref.Key, "op": op}).Warn("persistence not queued")
	}
}

func persistCode(err error) string {
	switch {
	case errors.Is(err, store.ErrRoomExpired):
		return protocol.CodeRoomExpired
	case errors.Is(err, store.ErrRoomNotFound):
		return protocol.CodeRoomNotFound
	default:
		return protocol.CodeInternal
	}
}

func (r *Router) fail(sess *session.Session, t protocol.Type, err error) {
	entry := r.log.WithError(err).WithFields(logrus.Fields{"conn": sess.ID(), "type": t})

	switch {
	case errors.Is(err, protocol.ErrMalformed), errors.Is(err, protocol.ErrInvalidShape):
		entry.Debug("dropping malformed message")
	case errors.Is(err, ErrNotJoined):
		entry.Warn("message for a room the connection has not joined")
		r.reply(sess, protocol.TypeError, protocol.ErrorData{Message: err.Error(), Code: protocol.CodeNotJoined})
	default:
		entry.Error("message handling failed")
		r.reply(sess, protocol.TypeError, protocol.ErrorData{Message: string(t) + " failed", Code: protocol.CodeInternal})
	}
}

func (r *Router) reply(sess *session.Session, t protocol.Type, data any) {
	payload, err := protocol.Encode(t, data)
	if err != nil {
		r.log.WithError(err).Error("encode reply")
		return
	}
	if !sess.Send(payload) {
		r.log.WithField("conn", sess.ID()).Debug("reply dropped")
	}
}

func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.ToValidUTF8(s[:max], "")
}
