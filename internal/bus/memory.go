package bus

import (
	"context"
	"sync"
)

// Memory внутрипроцессная шина: используется в тестах и в односерверных
// развертываниях, где межпроцессный fan-out не нужен.
type Memory struct {
	subs   map[string]map[int]*memorySub
	nextID int
	closed bool
	mu     sync.Mutex
}

// NewMemory создает внутрипроцессную шину.
func NewMemory() *Memory {
	return &Memory{
		subs: make(map[string]map[int]*memorySub),
	}
}

type memorySub struct {
	bus    *Memory
	ch     chan *Envelope
	roomID string
	id     int
	once   sync.Once
}

func (s *memorySub) C() <-chan *Envelope { return s.ch }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if room, ok := s.bus.subs[s.roomID]; ok {
			delete(room, s.id)
			if len(room) == 0 {
				delete(s.bus.subs, s.roomID)
			}
		}
		close(s.ch)
	})
	return nil
}

// Publish доставляет конверт всем подписчикам комнаты.
// Медленный подписчик теряет старые конверты, а не блокирует шину.
func (m *Memory) Publish(_ context.Context, roomID string, env *Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrBusClosed
	}

	for _, sub := range m.subs[roomID] {
		select {
		case sub.ch <- env:
		default:
		}
	}
	return nil
}

// Subscribe подписывает на конверты комнаты.
func (m *Memory) Subscribe(_ context.Context, roomID string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrBusClosed
	}

	sub := &memorySub{
		bus:    m,
		ch:     make(chan *Envelope, 64),
		roomID: roomID,
		id:     m.nextID,
	}
	m.nextID++

	if m.subs[roomID] == nil {
		m.subs[roomID] = make(map[int]*memorySub)
	}
	m.subs[roomID][sub.id] = sub

	return sub, nil
}

// Close останавливает шину и закрывает все подписки.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	for roomID, room := range m.subs {
		for id, sub := range room {
			delete(room, id)
			close(sub.ch)
		}
		delete(m.subs, roomID)
	}
	return nil
}
