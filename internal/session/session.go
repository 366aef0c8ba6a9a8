// Package session управляет жизненным циклом подключений: рукопожатие
// транспорта, авторизация, привязка к комнате, релей операций и
// присутствия, heartbeat и переподключение с дельта-синхронизацией.
package session

import (
	"sync/atomic"
	"time"

	"github.com/avdeyev/holst/internal/auth"
)

// State состояние сессии.
type State string

// Жизненный цикл сессии.
const (
	StateConnecting     State = "connecting"     // транспортное рукопожатие
	StateAuthenticating State = "authenticating" // ожидание и проверка hello
	StateJoined         State = "joined"         // привязана к комнате, идет начальная синхронизация
	StateActive         State = "active"         // участвует в рассылке
	StateDisconnecting  State = "disconnecting"  // закрывается
	StateClosed         State = "closed"
)

// Session одно аутентифицированное подключение. Владеет сессией только
// менеджер; остальные компоненты ссылаются на нее по идентификатору.
type Session struct {
	ID       string
	Identity auth.Identity
	RoomID   string

	state    atomic.Value // State
	lastSeen atomic.Int64 // unix nano
	ackedSeq atomic.Int64 // последний подтвержденный клиентом watermark
}

// newSession создает сессию в состоянии connecting.
func newSession(id string) *Session {
	s := &Session{ID: id}
	s.state.Store(StateConnecting)
	s.touch()
	return s
}

// State возвращает текущее состояние сессии.
func (s *Session) State() State {
	state, _ := s.state.Load().(State)
	return state
}

func (s *Session) setState(state State) {
	s.state.Store(state)
}

// LastSeen возвращает время последней активности клиента.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

// AckedSeq возвращает последний watermark, подтвержденный клиентом.
func (s *Session) AckedSeq() int64 {
	return s.ackedSeq.Load()
}

func (s *Session) ack(seq int64) {
	for {
		cur := s.ackedSeq.Load()
		if seq <= cur || s.ackedSeq.CompareAndSwap(cur, seq) {
			return
		}
	}
}
