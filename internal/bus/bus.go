// Package bus обеспечивает межпроцессную рассылку сообщений комнаты:
// участники одной комнаты могут обслуживаться разными процессами за
// балансировщиком без sticky-маршрутизации. Гарантия доставки -
// at-least-once: слияние документа идемпотентно, дубликаты безвредны.
package bus

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrBusClosed шина остановлена.
var ErrBusClosed = errors.New("bus closed")

// Kind тип полезной нагрузки конверта.
type Kind string

// Типы нагрузки.
const (
	KindOps      Kind = "ops"      // записи журнала операций
	KindPresence Kind = "presence" // состав присутствия комнаты
	KindClosing  Kind = "closing"  // комната закрывается на этом процессе
)

// Envelope конверт межпроцессного сообщения. Origin - идентификатор
// процесса-отправителя: свои конверты подписчик пропускает (это только
// быстрый путь, не условие корректности).
type Envelope struct {
	Origin  string          `json:"origin"`
	RoomID  string          `json:"room_id"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Subscription подписка на конверты одной комнаты.
type Subscription interface {
	// C возвращает канал входящих конвертов. Канал закрывается
	// при закрытии подписки.
	C() <-chan *Envelope

	// Close снимает подписку.
	Close() error
}

// Bus шина публикации/подписки по комнатам.
// Реализации: Redis (продакшен) и Memory (тесты, один процесс).
type Bus interface {
	// Publish рассылает конверт всем подписчикам комнаты.
	Publish(ctx context.Context, roomID string, env *Envelope) error

	// Subscribe подписывает на конверты комнаты.
	Subscribe(ctx context.Context, roomID string) (Subscription, error)

	// Close останавливает шину.
	Close() error
}
