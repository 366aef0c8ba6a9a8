// Package presence отслеживает эфемерное состояние присутствия участников
// комнаты: курсор, выделение, имя. Состояние никогда не персистится и не
// является CRDT - последнее обновление каждой сессии просто выигрывает.
package presence

import (
	"bytes"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Config параметры трекера присутствия.
type Config struct {
	IdleAfter     time.Duration // без обновлений дольше - участник помечается idle
	Expiry        time.Duration // без обновлений дольше - запись удаляется
	FlushInterval time.Duration // интервал коалесцированной рассылки
	SweepInterval time.Duration // интервал фоновой проверки таймаутов
}

// DefaultConfig возвращает параметры по умолчанию.
func DefaultConfig() Config {
	return Config{
		IdleAfter:     30 * time.Second,
		Expiry:        2 * time.Minute,
		FlushInterval: 250 * time.Millisecond,
		SweepInterval: 5 * time.Second,
	}
}

// Entry состояние присутствия одной сессии. State - непрозрачный payload
// клиента (курсор, выделение, имя, цвет); трекер его не интерпретирует.
// origin - процесс-владелец записи; пустой - локальная сессия.
type Entry struct {
	UpdatedAt time.Time       `json:"updated_at"`
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id"`
	State     json.RawMessage `json:"state,omitempty"`
	Idle      bool            `json:"idle,omitempty"`
	origin    string
}

// Tracker трекер присутствия одной комнаты. Обновления коалесцируются:
// подписчики получают полный состав комнаты не чаще FlushInterval,
// последнее состояние каждой сессии всегда выигрывает.
type Tracker struct {
	entries  map[string]*Entry
	watchers map[int]chan []Entry
	stopC    chan struct{}
	cfg      Config
	nextID   int
	dirty    bool
	stopped  bool
	mu       sync.Mutex
}

// NewTracker создает трекер и запускает фоновые циклы рассылки и
// проверки таймаутов.
func NewTracker(cfg Config) *Tracker {
	t := &Tracker{
		entries:  make(map[string]*Entry),
		watchers: make(map[int]chan []Entry),
		cfg:      cfg,
		stopC:    make(chan struct{}),
	}

	go t.flushLoop()
	go t.sweepLoop()

	return t
}

// SetLocal записывает состояние присутствия сессии. Предыдущее состояние
// замещается целиком.
func (t *Tracker) SetLocal(sessionID, userID string, state json.RawMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[sessionID] = &Entry{
		SessionID: sessionID,
		UserID:    userID,
		State:     append(json.RawMessage(nil), state...),
		UpdatedAt: time.Now(),
	}
	t.dirty = true
}

// Remove немедленно удаляет запись сессии. Вызывается при отключении:
// курсор умершей сессии не должен переживать само соединение.
func (t *Tracker) Remove(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[sessionID]; !ok {
		return
	}
	delete(t.entries, sessionID)
	t.dirty = true
}

// MergeRemote замещает записи процесса origin полученным составом:
// новые сессии добавляются, пропавшие удаляются сразу, не дожидаясь
// Expiry. Expiry остается страховкой на случай умершего процесса.
// UpdatedAt ставится по локальным часам - чужим не доверяем.
func (t *Tracker) MergeRemote(origin string, entries []Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		seen[e.SessionID] = struct{}{}

		cur, ok := t.entries[e.SessionID]
		if ok && cur.origin != origin {
			// Сессия принадлежит другому процессу; его состав
			// авторитетнее конверта с чужим origin.
			continue
		}
		if !ok || cur.UserID != e.UserID || cur.Idle != e.Idle || !bytes.Equal(cur.State, e.State) {
			t.dirty = true
		}
		t.entries[e.SessionID] = &Entry{
			SessionID: e.SessionID,
			UserID:    e.UserID,
			State:     append(json.RawMessage(nil), e.State...),
			Idle:      e.Idle,
			UpdatedAt: now,
			origin:    origin,
		}
	}

	for id, cur := range t.entries {
		if cur.origin != origin {
			continue
		}
		if _, ok := seen[id]; !ok {
			delete(t.entries, id)
			t.dirty = true
		}
	}
}

// Roster возвращает текущий состав комнаты, отсортированный по сессии.
func (t *Tracker) Roster() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.rosterLocked()
}

// LocalRoster возвращает только записи локальных сессий процесса.
// В шину уходит именно он: каждый процесс публикует своих участников.
func (t *Tracker) LocalRoster() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		if e.origin == "" {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

func (t *Tracker) rosterLocked() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Watch подписывает на коалесцированные снимки состава комнаты.
// Канал буферизован на один снимок: если подписчик не успевает, старый
// снимок замещается новым. Возвращенная функция снимает подписку.
func (t *Tracker) Watch() (<-chan []Entry, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	ch := make(chan []Entry, 1)
	t.watchers[id] = ch

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if c, ok := t.watchers[id]; ok {
			delete(t.watchers, id)
			close(c)
		}
	}
	return ch, cancel
}

// Stop останавливает фоновые циклы и закрывает все подписки.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	for id, ch := range t.watchers {
		delete(t.watchers, id)
		close(ch)
	}
	t.mu.Unlock()

	close(t.stopC)
}

// flushLoop рассылает состав комнаты подписчикам не чаще FlushInterval,
// и только когда он менялся.
func (t *Tracker) flushLoop() {
	ticker := time.NewTicker(t.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.flush()
		case <-t.stopC:
			return
		}
	}
}

func (t *Tracker) flush() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.dirty {
		return
	}
	t.dirty = false

	roster := t.rosterLocked()
	for _, ch := range t.watchers {
		// Замещаем неснятый снимок: подписчику нужен только последний.
		select {
		case ch <- roster:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- roster:
			default:
			}
		}
	}
}

// sweepLoop переводит молчащие записи в idle и удаляет протухшие.
func (t *Tracker) sweepLoop() {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.sweep(time.Now())
		case <-t.stopC:
			return
		}
	}
}

func (t *Tracker) sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, e := range t.entries {
		age := now.Sub(e.UpdatedAt)
		switch {
		case age >= t.cfg.Expiry:
			delete(t.entries, id)
			t.dirty = true
		case age >= t.cfg.IdleAfter && !e.Idle:
			e.Idle = true
			t.dirty = true
		}
	}
}
