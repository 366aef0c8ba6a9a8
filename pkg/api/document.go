package api

import "encoding/json"

// Version логическая метка операции: счетчик Лампорта + сессия-источник.
type Version struct {
	Counter int64  `json:"counter"`
	Session string `json:"session"`
}

// Operation одна реплицируемая мутация документа.
// Поля заполняются в зависимости от Type (insert, delete, set, move).
type Operation struct {
	Type     string                     `json:"type"`
	NodeID   string                     `json:"node_id"`
	Version  Version                    `json:"version"`
	Kind     string                     `json:"kind,omitempty"`
	Parent   string                     `json:"parent,omitempty"`
	Position []int64                    `json:"position,omitempty"`
	Fields   map[string]json.RawMessage `json:"fields,omitempty"`
	Field    string                     `json:"field,omitempty"`
	Value    json.RawMessage            `json:"value,omitempty"`
}

// OpRecord операция вместе с номером в журнале документа.
type OpRecord struct {
	Seq int64     `json:"seq"`
	Op  Operation `json:"op"`
}

// Node материализованный узел сцены: результат слияния всех операций.
// Children отсортированы в детерминированном порядке отображения.
type Node struct {
	ID       string                     `json:"id"`
	Kind     string                     `json:"kind"`
	Parent   string                     `json:"parent,omitempty"`
	Fields   map[string]json.RawMessage `json:"fields,omitempty"`
	Children []*Node                    `json:"children,omitempty"`
}
