// Package api содержит структуры протокола синхронизации:
// кадры WebSocket-соединения и DTO аудиторских эндпоинтов.
// Пакет не зависит от internal и может использоваться клиентами напрямую.
package api

import (
	"encoding/json"
	"fmt"
)

// MsgType тип кадра протокола.
type MsgType string

// Типы кадров. Первый кадр после установки соединения - всегда hello
// от клиента; сервер отвечает accept либо reject.
const (
	MsgHello       MsgType = "hello"        // клиент: токен + идентификатор документа
	MsgAccept      MsgType = "accept"       // сервер: сессия принята, начальное состояние
	MsgReject      MsgType = "reject"       // сервер: сессия отклонена, код причины
	MsgOp          MsgType = "op"           // операции документа (в обе стороны)
	MsgEdit        MsgType = "edit"         // клиент: доменные правки сцены
	MsgEditReject  MsgType = "edit_reject"  // сервер: правка не прошла валидацию
	MsgPresence    MsgType = "presence"     // эфемерное состояние присутствия
	MsgAck         MsgType = "ack"          // клиент: подтверждение watermark
	MsgPing        MsgType = "ping"         // heartbeat
	MsgPong        MsgType = "pong"         // ответ на heartbeat
	MsgRoomClosing MsgType = "room_closing" // сервер: комната закрывается
	MsgDegraded    MsgType = "degraded"     // сервер: редактирование временно деградировано
)

// Коды отклонения сессии (кадр reject).
const (
	RejectUnauthenticated  = "unauthenticated"
	RejectUnauthorized     = "unauthorized"
	RejectDocumentNotFound = "document_not_found"
)

// Frame конверт кадра: дискриминатор типа плюс полезная нагрузка.
type Frame struct {
	Type    MsgType         `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame собирает кадр с сериализованной нагрузкой.
func NewFrame(t MsgType, payload any) (*Frame, error) {
	if payload == nil {
		return &Frame{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return &Frame{Type: t, Payload: raw}, nil
}

// Decode распаковывает нагрузку кадра в v.
func (f *Frame) Decode(v any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("frame %s has no payload", f.Type)
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", f.Type, err)
	}
	return nil
}

// Hello первый кадр клиента: bearer-токен, идентификатор документа и
// последний подтвержденный клиентом watermark (0 - полная синхронизация).
type Hello struct {
	Token      string `json:"token"`
	DocumentID string `json:"document_id"`
	LastSeq    int64  `json:"last_seq,omitempty"`
}

// Accept ответ сервера на успешный hello. Содержит либо полное состояние
// документа (Document), либо дельту операций после запрошенного watermark
// (Records) - ровно одно из двух. Presence - текущий состав комнаты.
type Accept struct {
	SessionID string          `json:"session_id"`
	Document  *Node           `json:"document,omitempty"`
	Records   []OpRecord      `json:"records,omitempty"`
	Watermark int64           `json:"watermark"`
	Presence  []PresenceState `json:"presence,omitempty"`
}

// Reject ответ сервера на неуспешный hello. Соединение закрывается
// сразу после отправки кадра.
type Reject struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// OpPush операции от клиента. Версии проставлены клиентом;
// номера в журнале присваивает сервер.
type OpPush struct {
	Ops []Operation `json:"ops"`
}

// Edit одна доменная правка сцены. Сервер сам транслирует правку в
// примитивные операции: клиенту не нужно знать позиционные пути и
// версии, достаточно родителя и индекса среди его детей.
type Edit struct {
	Type   string `json:"type"`              // insert_node | delete_node | set_property | move_node
	NodeID string `json:"node_id,omitempty"` // для insert_node пустой NodeID означает «сгенерировать»

	// Для insert_node.
	Kind   string                     `json:"kind,omitempty"`
	Fields map[string]json.RawMessage `json:"fields,omitempty"`

	// Для insert_node и move_node: целевой родитель и индекс среди его
	// детей. Отрицательный индекс означает «в конец».
	Parent string `json:"parent,omitempty"`
	Index  int    `json:"index,omitempty"`

	// Для set_property.
	Field string          `json:"field,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// EditPush доменные правки от клиента. Принятые правки возвращаются
// всем участникам обычным кадром op; отклоненная правка - кадром
// edit_reject, и весь пакет не применяется.
type EditPush struct {
	Edits []Edit `json:"edits"`
}

// EditReject отказ в применении доменной правки.
type EditReject struct {
	Reason string `json:"reason"`
}

// OpBroadcast операции от сервера: записи журнала с номерами.
type OpBroadcast struct {
	Records []OpRecord `json:"records"`
}

// PresencePush эфемерное состояние присутствия от клиента.
type PresencePush struct {
	Cursor    *Cursor `json:"cursor,omitempty"`
	Selection []string `json:"selection,omitempty"`
	Name      string  `json:"name,omitempty"`
	Color     string  `json:"color,omitempty"`
}

// PresenceBroadcast полный состав комнаты от сервера.
// Последнее состояние каждой сессии всегда выигрывает.
type PresenceBroadcast struct {
	Sessions []PresenceState `json:"sessions"`
}

// PresenceState состояние присутствия одной сессии.
type PresenceState struct {
	SessionID string   `json:"session_id"`
	UserID    string   `json:"user_id"`
	Name      string   `json:"name,omitempty"`
	Color     string   `json:"color,omitempty"`
	Cursor    *Cursor  `json:"cursor,omitempty"`
	Selection []string `json:"selection,omitempty"`
	Idle      bool     `json:"idle,omitempty"`
}

// Cursor позиция курсора в сцене.
type Cursor struct {
	NodeID string  `json:"node_id,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// Ack подтверждение клиента: все операции по Seq включительно применены.
type Ack struct {
	Seq int64 `json:"seq"`
}

// RoomClosing уведомление о закрытии комнаты. После него сервер
// закрывает соединение.
type RoomClosing struct {
	Reason string `json:"reason,omitempty"`
}

// Degraded уведомление о деградации: durable-хранилище недоступно дольше
// допустимого окна, редактирование переведено в read-only до восстановления.
type Degraded struct {
	ReadOnly bool   `json:"read_only"`
	Reason   string `json:"reason,omitempty"`
}
