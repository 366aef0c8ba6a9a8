package models

import "encoding/json"

// OpType тип реплицируемой операции.
type OpType string

// Примитивные операции над документом. Каждая операция коммутативна
// и идемпотентна относительно функции слияния документа.
const (
	OpInsert OpType = "insert" // вставка нового узла
	OpDelete OpType = "delete" // удаление узла (tombstone)
	OpSet    OpType = "set"    // запись одного поля узла
	OpMove   OpType = "move"   // перемещение узла (новый родитель и/или позиция)
)

// Operation представляет одну причинно-упорядоченную мутацию документа.
// Поля заполняются в зависимости от Type; Version - логическая метка
// сессии-источника, разрешающая конкурентные записи.
type Operation struct {
	Type    OpType  `json:"type"`    // Type тип операции
	NodeID  string  `json:"node_id"` // NodeID идентификатор затронутого узла
	Version Version `json:"version"` // Version логическая метка источника

	// Для insert.
	Kind NodeKind `json:"kind,omitempty"` // Kind тип вставляемого узла

	// Для insert и move: целевой родитель и позиция среди его детей.
	Parent   string   `json:"parent,omitempty"`   // Parent идентификатор родителя
	Position Position `json:"position,omitempty"` // Position позиционный идентификатор среди сиблингов

	// Для insert: начальные свойства узла.
	Fields map[string]json.RawMessage `json:"fields,omitempty"`

	// Для set.
	Field string          `json:"field,omitempty"` // Field имя поля
	Value json.RawMessage `json:"value,omitempty"` // Value новое значение поля
}

// OpRecord операция вместе с номером, присвоенным ей в журнале операций
// документа. Seq - это watermark: границы снапшотов, подтверждения клиентов
// и дельта-синхронизация выражаются в этих номерах.
type OpRecord struct {
	Seq int64     `json:"seq"` // Seq номер в журнале (монотонный на документ)
	Op  Operation `json:"op"`  // Op сама операция
}

// Clone создает глубокую копию операции.
func (o *Operation) Clone() *Operation {
	cp := *o
	cp.Position = append(Position(nil), o.Position...)
	if o.Fields != nil {
		cp.Fields = make(map[string]json.RawMessage, len(o.Fields))
		for k, v := range o.Fields {
			cp.Fields[k] = append(json.RawMessage(nil), v...)
		}
	}
	cp.Value = append(json.RawMessage(nil), o.Value...)
	return &cp
}
