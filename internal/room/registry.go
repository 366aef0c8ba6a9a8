package room

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avdeyev/holst/internal/bus"
	"github.com/avdeyev/holst/internal/persist"
	"github.com/avdeyev/holst/internal/presence"
	"github.com/avdeyev/holst/internal/storage"
)

// RegistryConfig параметры реестра комнат.
type RegistryConfig struct {
	// GracePeriod сколько пустая комната живет в памяти до вытеснения.
	GracePeriod time.Duration

	// Presence параметры трекеров присутствия создаваемых комнат.
	Presence presence.Config
}

// DefaultRegistryConfig возвращает параметры по умолчанию.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		GracePeriod: 30 * time.Second,
		Presence:    presence.DefaultConfig(),
	}
}

// Registry реестр активных комнат процесса: создание при первом
// подключении, вытеснение после ухода последнего участника плюс
// grace-период. Внедряется зависимостью, не амбиентный синглтон.
type Registry struct {
	persist   *persist.Service
	oplog     storage.OpLog
	bus       bus.Bus
	publisher Publisher
	logger    *slog.Logger

	rooms  map[string]*registryEntry
	origin string
	cfg    RegistryConfig

	closed bool
	mu     sync.Mutex
}

type registryEntry struct {
	room       *Room
	job        *persist.Job
	graceTimer *time.Timer
	refs       int
}

// NewRegistry создает реестр комнат.
// origin - идентификатор процесса для конвертов шины.
func NewRegistry(
	persistSvc *persist.Service,
	oplog storage.OpLog,
	b bus.Bus,
	publisher Publisher,
	origin string,
	cfg RegistryConfig,
	logger *slog.Logger,
) *Registry {
	return &Registry{
		persist:   persistSvc,
		oplog:     oplog,
		bus:       b,
		publisher: publisher,
		origin:    origin,
		cfg:       cfg,
		logger:    logger,
		rooms:     make(map[string]*registryEntry),
	}
}

// Acquire возвращает комнату документа, создавая и восстанавливая ее при
// первом подключении. Каждому Acquire должен соответствовать Release.
func (g *Registry) Acquire(ctx context.Context, documentID string) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, fmt.Errorf("registry is shutting down")
	}

	if entry, ok := g.rooms[documentID]; ok {
		entry.refs++
		if entry.graceTimer != nil {
			entry.graceTimer.Stop()
			entry.graceTimer = nil
		}
		return entry.room, nil
	}

	// Холодная комната: восстанавливаем документ из durable-хранилища
	// (снапшот + хвост журнала) и подписываемся на шину.
	doc, watermark, err := g.persist.Restore(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to restore document %s: %w", documentID, err)
	}

	sub, err := g.bus.Subscribe(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to room %s: %w", documentID, err)
	}

	tracker := presence.NewTracker(g.cfg.Presence)
	r := New(doc, watermark, g.oplog, g.publisher, sub, tracker, g.origin, g.logger)

	entry := &registryEntry{
		room: r,
		job:  g.persist.StartJob(context.Background(), r),
		refs: 1,
	}
	g.rooms[documentID] = entry

	g.logger.Info("room created",
		"room_id", documentID, "watermark", watermark)

	return r, nil
}

// NoteOps сообщает снапшоттеру комнаты о примененных операциях.
func (g *Registry) NoteOps(documentID string, n int) {
	g.mu.Lock()
	entry, ok := g.rooms[documentID]
	g.mu.Unlock()
	if !ok {
		return
	}
	for i := 0; i < n; i++ {
		entry.job.NoteOp()
	}
}

// Release отпускает комнату. Когда уходит последний участник, комната
// остается в памяти еще GracePeriod и затем вытесняется с финальным
// снапшотом.
func (g *Registry) Release(documentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.rooms[documentID]
	if !ok {
		return
	}

	entry.refs--
	if entry.refs > 0 || g.closed {
		return
	}

	entry.graceTimer = time.AfterFunc(g.cfg.GracePeriod, func() {
		g.evict(documentID)
	})
}

// evict вытесняет пустую комнату: отмена снапшоттера, финальный снапшот,
// закрытие. Комната, успевшая набрать участников за grace-период,
// остается.
func (g *Registry) evict(documentID string) {
	g.mu.Lock()
	entry, ok := g.rooms[documentID]
	if !ok || entry.refs > 0 {
		g.mu.Unlock()
		return
	}
	delete(g.rooms, documentID)
	g.mu.Unlock()

	g.shutdownRoom(entry, "room evicted")
}

// shutdownRoom останавливает комнату с финальным снапшотом.
func (g *Registry) shutdownRoom(entry *registryEntry, reason string) {
	entry.job.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	r := entry.room
	if err := g.persist.Snapshot(ctx, r.Document(), r.Watermark()); err != nil {
		// Журнал остается неусеченным: документ восстановится
		// переигрыванием с прошлого снапшота.
		g.logger.Error("final snapshot failed",
			"room_id", r.ID(), "error", err)
	}

	r.Close(reason)

	g.logger.Info("room closed", "room_id", r.ID(), "reason", reason)
}

// Rooms возвращает число активных комнат.
func (g *Registry) Rooms() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Shutdown вытесняет все комнаты: участники получают room_closing,
// каждая комната снимает финальный снапшот.
func (g *Registry) Shutdown() {
	g.mu.Lock()
	g.closed = true
	entries := make([]*registryEntry, 0, len(g.rooms))
	for id, entry := range g.rooms {
		if entry.graceTimer != nil {
			entry.graceTimer.Stop()
		}
		entries = append(entries, entry)
		delete(g.rooms, id)
	}
	g.mu.Unlock()

	for _, entry := range entries {
		g.shutdownRoom(entry, "server shutting down")
	}
}
