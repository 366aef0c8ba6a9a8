package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// QueueConfig параметры очереди недоставленных конвертов.
type QueueConfig struct {
	MaxQueue    int           // максимум конвертов в очереди; старые вытесняются
	MaxInterval time.Duration // потолок паузы между повторами
}

// DefaultQueueConfig возвращает параметры по умолчанию.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxQueue:    1024,
		MaxInterval: 30 * time.Second,
	}
}

// QueuedPublisher публикует конверты через шину, переживая ее недоступность:
// неотправленные конверты копятся в ограниченной очереди и пересылаются
// с экспоненциальным backoff после восстановления. Локальные участники
// комнаты продолжают обслуживаться независимо от состояния шины.
type QueuedPublisher struct {
	bus    Bus
	logger *slog.Logger
	queue  []*Envelope
	kickC  chan struct{}
	stopC  chan struct{}
	doneC  chan struct{}
	cfg    QueueConfig
	mu     sync.Mutex
}

// NewQueuedPublisher создает публикатор и запускает фоновую пересылку.
func NewQueuedPublisher(b Bus, cfg QueueConfig, logger *slog.Logger) *QueuedPublisher {
	p := &QueuedPublisher{
		bus:    b,
		logger: logger,
		cfg:    cfg,
		kickC:  make(chan struct{}, 1),
		stopC:  make(chan struct{}),
		doneC:  make(chan struct{}),
	}

	go p.flushLoop()

	return p
}

// Publish отправляет конверт. При недоступности шины конверт ставится
// в очередь; ошибка наружу не возвращается - fan-out деградирует, но
// не прерывает редактирование.
func (p *QueuedPublisher) Publish(ctx context.Context, roomID string, env *Envelope) error {
	p.mu.Lock()
	queued := len(p.queue) > 0
	p.mu.Unlock()

	// Пока очередь не пуста, новые конверты идут за ней:
	// порядок отправки сохраняется.
	if !queued {
		if err := p.bus.Publish(ctx, roomID, env); err == nil {
			return nil
		} else if errors.Is(err, ErrBusClosed) {
			return err
		} else {
			p.logger.Warn("bus publish failed, queueing envelope",
				"room_id", roomID, "error", err)
		}
	}

	p.enqueue(env)
	return nil
}

func (p *QueuedPublisher) enqueue(env *Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) >= p.cfg.MaxQueue {
		// Вытесняем старейший конверт: документ доедет слиянием,
		// потеря конверта не теряет данных durable-журнала.
		p.queue = p.queue[1:]
		p.logger.Warn("bus queue overflow, oldest envelope dropped")
	}
	p.queue = append(p.queue, env)

	select {
	case p.kickC <- struct{}{}:
	default:
	}
}

// Pending возвращает размер очереди недоставленных конвертов.
func (p *QueuedPublisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Stop останавливает фоновую пересылку. Очередь не дренируется.
func (p *QueuedPublisher) Stop() {
	close(p.stopC)
	<-p.doneC
}

// flushLoop пересылает очередь после восстановления шины.
func (p *QueuedPublisher) flushLoop() {
	defer close(p.doneC)

	for {
		select {
		case <-p.stopC:
			return
		case <-p.kickC:
			p.drain()
		}
	}
}

func (p *QueuedPublisher) drain() {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = p.cfg.MaxInterval
	bo.MaxElapsedTime = 0 // повторяем до успеха или остановки

	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		env := p.queue[0]
		p.mu.Unlock()

		err := p.bus.Publish(context.Background(), env.RoomID, env)
		if err == nil {
			p.mu.Lock()
			p.queue = p.queue[1:]
			p.mu.Unlock()
			bo.Reset()
			continue
		}
		if errors.Is(err, ErrBusClosed) {
			return
		}

		select {
		case <-time.After(bo.NextBackOff()):
		case <-p.stopC:
			return
		}
	}
}
