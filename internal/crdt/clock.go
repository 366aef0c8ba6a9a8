package crdt

import "sync"

// LamportClock представляет логические часы Лампорта для упорядочивания
// операций документа без синхронизации физического времени. Одни часы
// принадлежат одной реплике документа; версии операций строятся из
// значения счетчика и идентификатора сессии-источника.
type LamportClock struct {
	counter int64      // монотонно возрастающий счетчик
	mu      sync.Mutex // мьютекс для потокобезопасности
}

// NewLamportClock создает новый экземпляр логических часов Лампорта.
func NewLamportClock() *LamportClock {
	return &LamportClock{}
}

// Tick увеличивает счетчик и возвращает новое значение.
// Используется при создании новой локальной операции.
func (lc *LamportClock) Tick() int64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	lc.counter++
	return lc.counter
}

// Update обновляет счетчик на основе метки удаленной операции.
// Согласно алгоритму Лампорта: counter = max(counter, remote) + 1.
func (lc *LamportClock) Update(remote int64) int64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if remote > lc.counter {
		lc.counter = remote
	}
	lc.counter++

	return lc.counter
}

// GetTimestamp возвращает текущее значение счетчика без его изменения.
func (lc *LamportClock) GetTimestamp() int64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	return lc.counter
}

// SetTimestamp устанавливает счетчик в заданное значение.
// Используется при восстановлении документа из снапшота.
func (lc *LamportClock) SetTimestamp(timestamp int64) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	lc.counter = timestamp
}
