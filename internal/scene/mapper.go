// Package scene транслирует доменные правки редактора (вставить узел,
// перенести, записать свойство) в примитивные реплицируемые операции
// и обратно. Структурные инварианты сцены проверяются здесь, до
// трансляции: правка, способная породить цикл или тронуть корень,
// отклоняется локально и в сеть не уходит.
package scene

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/avdeyev/holst/internal/crdt"
	"github.com/avdeyev/holst/internal/models"
)

// Mapper привязан к одной реплике документа и одной сессии: версии
// операций выдаются часами документа от имени этой сессии.
type Mapper struct {
	doc       *crdt.Document
	sessionID string
}

// NewMapper создает транслятор правок для сессии.
func NewMapper(doc *crdt.Document, sessionID string) *Mapper {
	return &Mapper{
		doc:       doc,
		sessionID: sessionID,
	}
}

// ToOps валидирует правку и транслирует ее в примитивные операции.
// Возвращает ошибку валидации, если правка нарушает структурный
// инвариант; такая правка операцией не становится.
func (m *Mapper) ToOps(edit *Edit) ([]*models.Operation, error) {
	switch edit.Type {
	case EditInsertNode:
		return m.insertOps(edit)
	case EditDeleteNode:
		return m.deleteOps(edit)
	case EditSetProperty:
		return m.setOps(edit)
	case EditMoveNode:
		return m.moveOps(edit)
	}
	return nil, fmt.Errorf("unknown edit type %q", edit.Type)
}

func (m *Mapper) insertOps(edit *Edit) ([]*models.Operation, error) {
	if !edit.Kind.Valid() || edit.Kind == models.NodeKindRoot {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, edit.Kind)
	}
	if !m.doc.Contains(edit.Parent) {
		return nil, fmt.Errorf("parent %q: %w", edit.Parent, ErrNodeNotFound)
	}

	nodeID := edit.NodeID
	if nodeID == "" {
		nodeID = uuid.New().String()
	}

	op := &models.Operation{
		Type:     models.OpInsert,
		NodeID:   nodeID,
		Version:  m.doc.NextVersion(m.sessionID),
		Kind:     edit.Kind,
		Parent:   edit.Parent,
		Position: m.positionAt(edit.Parent, edit.Index, ""),
		Fields:   edit.Fields,
	}
	return []*models.Operation{op}, nil
}

func (m *Mapper) deleteOps(edit *Edit) ([]*models.Operation, error) {
	if edit.NodeID == models.RootNodeID {
		return nil, ErrRootImmutable
	}
	if !m.doc.Contains(edit.NodeID) {
		return nil, fmt.Errorf("node %q: %w", edit.NodeID, ErrNodeNotFound)
	}

	op := &models.Operation{
		Type:    models.OpDelete,
		NodeID:  edit.NodeID,
		Version: m.doc.NextVersion(m.sessionID),
	}
	return []*models.Operation{op}, nil
}

func (m *Mapper) setOps(edit *Edit) ([]*models.Operation, error) {
	if edit.Field == "" {
		return nil, ErrInvalidField
	}
	if !m.doc.Contains(edit.NodeID) {
		return nil, fmt.Errorf("node %q: %w", edit.NodeID, ErrNodeNotFound)
	}

	// Правка выражается на уровне одного поля: конкурентные правки
	// разных полей одного узла не конфликтуют.
	op := &models.Operation{
		Type:    models.OpSet,
		NodeID:  edit.NodeID,
		Version: m.doc.NextVersion(m.sessionID),
		Field:   edit.Field,
		Value:   edit.Value,
	}
	return []*models.Operation{op}, nil
}

func (m *Mapper) moveOps(edit *Edit) ([]*models.Operation, error) {
	if edit.NodeID == models.RootNodeID {
		return nil, ErrRootImmutable
	}
	if !m.doc.Contains(edit.NodeID) {
		return nil, fmt.Errorf("node %q: %w", edit.NodeID, ErrNodeNotFound)
	}
	if !m.doc.Contains(edit.Parent) {
		return nil, fmt.Errorf("parent %q: %w", edit.Parent, ErrNodeNotFound)
	}
	// Перенос узла в собственное поддерево создал бы цикл. Проверка
	// выполняется до трансляции: циклическая правка не должна попасть
	// в реплицируемый журнал, обходные проверки при слиянии ее уже
	// не спасут.
	if m.doc.IsAncestor(edit.NodeID, edit.Parent) {
		return nil, fmt.Errorf("parent %q is inside node %q: %w", edit.Parent, edit.NodeID, ErrCycle)
	}

	// Перенос переписывает позицию только самого узла: сиблинги
	// не затрагиваются, payload минимален и сливается независимо.
	op := &models.Operation{
		Type:     models.OpMove,
		NodeID:   edit.NodeID,
		Version:  m.doc.NextVersion(m.sessionID),
		Parent:   edit.Parent,
		Position: m.positionAt(edit.Parent, edit.Index, edit.NodeID),
	}
	return []*models.Operation{op}, nil
}

// positionAt строит позицию для вставки под parent по индексу index.
// exclude исключает сам переносимый узел из списка сиблингов.
// Отрицательный или выходящий за границы индекс означает «в конец».
func (m *Mapper) positionAt(parent string, index int, exclude string) models.Position {
	slots := m.doc.Siblings(parent)
	if exclude != "" {
		filtered := slots[:0]
		for _, s := range slots {
			if s.NodeID != exclude {
				filtered = append(filtered, s)
			}
		}
		slots = filtered
	}

	if index < 0 || index > len(slots) {
		index = len(slots)
	}

	var left, right models.Position
	if index > 0 {
		left = slots[index-1].Position
	}
	if index < len(slots) {
		right = slots[index].Position
	}
	return models.PositionBetween(left, right)
}

// Summarize сворачивает набор операций в доменную сводку.
func Summarize(ops []*models.Operation) *Summary {
	s := &Summary{}
	for _, op := range ops {
		switch op.Type {
		case models.OpInsert:
			s.Inserted = append(s.Inserted, op.NodeID)
		case models.OpDelete:
			s.Deleted = append(s.Deleted, op.NodeID)
		case models.OpMove:
			s.Moved = append(s.Moved, op.NodeID)
		case models.OpSet:
			s.FieldSet = append(s.FieldSet, op.NodeID+"."+op.Field)
		}
	}
	return s
}
