package models

import "time"

// Snapshot представляет durable-версию слитого состояния документа.
// Version - ULID: лексикографический порядок версий совпадает с порядком
// создания. Watermark - старший номер журнала, вошедший в снапшот: журнал
// можно усекать по него включительно только после подтверждения записи.
// Снапшоты никогда не перезаписываются; вытесненные версии остаются
// адресуемыми для аудита и отката.
type Snapshot struct {
	CreatedAt  time.Time `json:"created_at"`  // CreatedAt время создания снапшота
	DocumentID string    `json:"document_id"` // DocumentID идентификатор документа
	Version    string    `json:"version"`     // Version идентификатор версии (ULID)
	Checksum   string    `json:"checksum"`    // Checksum контрольная сумма State (BLAKE2b, hex)
	State      []byte    `json:"state"`       // State сериализованное состояние документа
	Watermark  int64     `json:"watermark"`   // Watermark граница журнала, отраженная снапшотом
}

// Clone создает глубокую копию снапшота.
func (s *Snapshot) Clone() *Snapshot {
	cp := *s
	cp.State = append([]byte(nil), s.State...)
	return &cp
}
