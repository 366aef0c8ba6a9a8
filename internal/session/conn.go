package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avdeyev/holst/internal/models"
	"github.com/avdeyev/holst/internal/room"
	"github.com/avdeyev/holst/internal/scene"
	"github.com/avdeyev/holst/pkg/api"
)

// conn обслуживает одно WebSocket-соединение: readPump принимает кадры
// клиента, writePump отдает события комнаты и прямые ответы. Запись в
// сокет идет только из writePump; readPump передает ответы через sendC.
type conn struct {
	ws       *websocket.Conn
	sess     *Session
	room     *room.Room
	member   *room.Member
	registry *room.Registry
	logger   *slog.Logger
	sendC    chan *api.Frame
	cfg      Config
}

// readHello читает первый кадр рукопожатия в пределах HandshakeTimeout.
func (c *conn) readHello() (*api.Hello, error) {
	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout)); err != nil {
		return nil, err
	}

	frame := &api.Frame{}
	if err := c.ws.ReadJSON(frame); err != nil {
		return nil, err
	}
	if frame.Type != api.MsgHello {
		return nil, errors.New("first frame must be hello")
	}

	hello := &api.Hello{}
	if err := frame.Decode(hello); err != nil {
		return nil, err
	}
	return hello, nil
}

// reject отправляет кадр отказа и закрывает соединение. Отказ никогда
// не бывает молчаливым.
func (c *conn) reject(code, message string) {
	frame, err := api.NewFrame(api.MsgReject, &api.Reject{Code: code, Message: message})
	if err != nil {
		return
	}
	_ = c.write(frame)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code),
		time.Now().Add(c.cfg.WriteTimeout))
}

// write пишет кадр с дедлайном. Используется до запуска writePump
// (рукопожатие) и самим writePump.
func (c *conn) write(frame *api.Frame) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(frame)
}

// send ставит кадр в очередь writePump.
func (c *conn) send(t api.MsgType, payload any) {
	frame, err := api.NewFrame(t, payload)
	if err != nil {
		c.logger.Error("failed to build frame",
			"session_id", c.sess.ID, "type", t, "error", err)
		return
	}
	select {
	case c.sendC <- frame:
	default:
		c.logger.Warn("send queue full, frame dropped",
			"session_id", c.sess.ID, "type", t)
	}
}

// readPump принимает кадры клиента до разрыва соединения.
// Дедлайн чтения продлевается на каждом pong и каждом кадре: молчание
// дольше HeartbeatTimeout разрывает соединение.
func (c *conn) readPump(ctx context.Context) {
	resetDeadline := func() {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.HeartbeatTimeout))
		c.sess.touch()
	}
	resetDeadline()
	c.ws.SetPongHandler(func(string) error {
		resetDeadline()
		return nil
	})

	for {
		frame := &api.Frame{}
		if err := c.ws.ReadJSON(frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("websocket read failed",
					"session_id", c.sess.ID, "error", err)
			}
			return
		}
		resetDeadline()

		switch frame.Type {
		case api.MsgOp:
			c.handleOps(ctx, frame)
		case api.MsgEdit:
			c.handleEdit(ctx, frame)
		case api.MsgPresence:
			c.room.SetPresence(c.sess.ID, c.sess.Identity.UserID, frame.Payload)
		case api.MsgAck:
			ack := &api.Ack{}
			if err := frame.Decode(ack); err == nil {
				c.sess.ack(ack.Seq)
			}
		case api.MsgPing:
			c.send(api.MsgPong, nil)
		case api.MsgPong:
			// heartbeat уровня кадров, дедлайн уже продлен
		default:
			c.logger.Warn("unexpected frame",
				"session_id", c.sess.ID, "type", frame.Type)
		}
	}
}

// handleOps применяет операции клиента к комнате.
func (c *conn) handleOps(ctx context.Context, frame *api.Frame) {
	push := &api.OpPush{}
	if err := frame.Decode(push); err != nil {
		c.logger.Warn("malformed op frame",
			"session_id", c.sess.ID, "error", err)
		return
	}

	ops := make([]*models.Operation, 0, len(push.Ops))
	for i := range push.Ops {
		ops = append(ops, opFromAPI(&push.Ops[i]))
	}
	c.applyOps(ctx, ops)
}

// handleEdit транслирует доменные правки клиента в примитивные операции
// и применяет их к комнате. Правка, нарушающая структурный инвариант
// сцены, отклоняет весь пакет: ни одна операция из него не применяется.
func (c *conn) handleEdit(ctx context.Context, frame *api.Frame) {
	push := &api.EditPush{}
	if err := frame.Decode(push); err != nil {
		c.logger.Warn("malformed edit frame",
			"session_id", c.sess.ID, "error", err)
		return
	}

	mapper := scene.NewMapper(c.room.Document(), c.sess.ID)
	var ops []*models.Operation
	for i := range push.Edits {
		translated, err := mapper.ToOps(editFromAPI(&push.Edits[i]))
		if err != nil {
			c.send(api.MsgEditReject, &api.EditReject{Reason: err.Error()})
			return
		}
		ops = append(ops, translated...)
	}
	c.applyOps(ctx, ops)
}

// applyOps применяет операции к комнате и пишет доменную сводку в журнал.
func (c *conn) applyOps(ctx context.Context, ops []*models.Operation) {
	records, err := c.room.ApplyLocal(ctx, ops)
	if len(records) > 0 {
		c.registry.NoteOps(c.room.ID(), len(records))
	}
	if err != nil {
		if errors.Is(err, room.ErrDegraded) {
			c.send(api.MsgDegraded, &api.Degraded{ReadOnly: true, Reason: err.Error()})
			return
		}
		c.logger.Error("failed to apply operations",
			"session_id", c.sess.ID, "room_id", c.room.ID(), "error", err)
		return
	}

	applied := make([]*models.Operation, 0, len(records))
	for _, rec := range records {
		op := rec.Op
		applied = append(applied, &op)
	}
	if summary := scene.Summarize(applied); !summary.Empty() {
		c.logger.Debug("document edited",
			"session_id", c.sess.ID, "room_id", c.room.ID(),
			"inserted", summary.Inserted, "deleted", summary.Deleted,
			"moved", summary.Moved, "field_set", summary.FieldSet)
	}
}

// writePump отдает клиенту события комнаты и прямые ответы, шлет
// периодические пинги. Закрытие канала участника (комната закрылась или
// участник отстал) завершает pump и соединение.
func (c *conn) writePump(done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.pingPeriod())
	defer ticker.Stop()
	defer func() {
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-done:
			return

		case ev, ok := <-c.member.C:
			if !ok {
				_ = c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "room closed"),
					time.Now().Add(c.cfg.WriteTimeout))
				return
			}
			if err := c.writeEvent(ev); err != nil {
				c.logger.Warn("websocket write failed",
					"session_id", c.sess.ID, "error", err)
				return
			}

		case frame := <-c.sendC:
			if err := c.write(frame); err != nil {
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// writeEvent конвертирует событие комнаты в кадр протокола.
func (c *conn) writeEvent(ev room.Event) error {
	switch ev.Kind {
	case room.EventOps:
		frame, err := api.NewFrame(api.MsgOp, &api.OpBroadcast{Records: recordsToAPI(ev.Records)})
		if err != nil {
			return err
		}
		return c.write(frame)

	case room.EventPresence:
		frame, err := api.NewFrame(api.MsgPresence, &api.PresenceBroadcast{Sessions: rosterToAPI(ev.Roster)})
		if err != nil {
			return err
		}
		return c.write(frame)

	case room.EventDegraded:
		frame, err := api.NewFrame(api.MsgDegraded, &api.Degraded{ReadOnly: ev.ReadOnly, Reason: ev.Reason})
		if err != nil {
			return err
		}
		return c.write(frame)

	case room.EventClosing:
		frame, err := api.NewFrame(api.MsgRoomClosing, &api.RoomClosing{Reason: ev.Reason})
		if err != nil {
			return err
		}
		return c.write(frame)
	}
	return nil
}
