package scene

import (
	"encoding/json"

	"github.com/avdeyev/holst/internal/models"
)

// EditType тип доменной правки редактора.
type EditType string

// Доменные правки, которые редактор выражает над сценой.
const (
	EditInsertNode  EditType = "insert_node"  // вставка нового узла
	EditDeleteNode  EditType = "delete_node"  // удаление узла
	EditSetProperty EditType = "set_property" // запись одного свойства узла
	EditMoveNode    EditType = "move_node"    // перенос узла (родитель и/или порядок)
)

// Edit представляет одну доменную правку до трансляции в примитивные
// операции. Поля заполняются в зависимости от Type.
type Edit struct {
	Type   EditType `json:"type"`
	NodeID string   `json:"node_id,omitempty"` // для insert пустой NodeID означает «сгенерировать»

	// Для insert.
	Kind   models.NodeKind            `json:"kind,omitempty"`
	Fields map[string]json.RawMessage `json:"fields,omitempty"`

	// Для insert и move: целевой родитель и индекс среди его детей.
	// Отрицательный индекс означает «в конец».
	Parent string `json:"parent,omitempty"`
	Index  int    `json:"index,omitempty"`

	// Для set_property.
	Field string          `json:"field,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Summary сводка по набору операций: что они делают с документом
// в доменных терминах. Используется для журналирования и аудита.
type Summary struct {
	Inserted []string `json:"inserted,omitempty"` // вставленные узлы
	Deleted  []string `json:"deleted,omitempty"`  // удаленные узлы
	Moved    []string `json:"moved,omitempty"`    // перемещенные узлы
	FieldSet []string `json:"field_set,omitempty"` // правки полей в формате node.field
}

// Empty возвращает true для пустой сводки.
func (s *Summary) Empty() bool {
	return len(s.Inserted) == 0 && len(s.Deleted) == 0 &&
		len(s.Moved) == 0 && len(s.FieldSet) == 0
}
