package models

// Version представляет логическую метку времени операции:
// монотонный счетчик Лампорта плюс идентификатор сессии-источника.
// Используется для детерминированного разрешения конкурентных записей
// (Last-Write-Wins) независимо от порядка доставки.
type Version struct {
	Counter int64  `json:"counter"` // Counter значение счетчика Лампорта на момент создания операции
	Session string `json:"session"` // Session идентификатор сессии, создавшей операцию
}

// Zero возвращает true, если версия не установлена.
func (v Version) Zero() bool {
	return v.Counter == 0 && v.Session == ""
}

// Compare задает единый тотальный порядок версий:
// 1. Сначала сравнивается Counter (больший новее)
// 2. При равных Counter сравнивается Session (лексикографически)
// Возвращает -1, 0 или 1. Один и тот же порядок применяется и к конфликтам
// полей, и к структурным конфликтам позиций - это гарантирует, что все
// реплики выбирают одного победителя.
func (v Version) Compare(other Version) int {
	if v.Counter != other.Counter {
		if v.Counter < other.Counter {
			return -1
		}
		return 1
	}
	if v.Session != other.Session {
		if v.Session < other.Session {
			return -1
		}
		return 1
	}
	return 0
}

// Newer возвращает true, если текущая версия новее other по правилу LWW.
func (v Version) Newer(other Version) bool {
	return v.Compare(other) > 0
}
