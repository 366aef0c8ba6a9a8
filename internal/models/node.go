package models

import "encoding/json"

// RootNodeID идентификатор корня холста. Корень существует всегда,
// не может быть удален или перемещен.
const RootNodeID = "root"

// NodeKind тип узла сцены.
type NodeKind string

// Типы узлов, поддерживаемые редактором.
const (
	NodeKindText      NodeKind = "text"
	NodeKindImage     NodeKind = "image"
	NodeKindGroup     NodeKind = "group"
	NodeKindComponent NodeKind = "component"
	NodeKindRoot      NodeKind = "root"
)

// Valid возвращает true для известного типа узла.
func (k NodeKind) Valid() bool {
	switch k {
	case NodeKindText, NodeKindImage, NodeKindGroup, NodeKindComponent, NodeKindRoot:
		return true
	}
	return false
}

// Node представляет материализованный узел сцены: результат слияния всех
// операций, в том виде, в котором его потребляет редактор. Children
// отсортированы в детерминированном порядке (позиция, затем версия вставки).
type Node struct {
	ID       string                     `json:"id"`                 // ID стабильный идентификатор узла (неизменен за время жизни)
	Kind     NodeKind                   `json:"kind"`               // Kind тип узла
	Parent   string                     `json:"parent,omitempty"`   // Parent идентификатор родителя (пусто для корня)
	Fields   map[string]json.RawMessage `json:"fields,omitempty"`   // Fields свойства узла (цвет, текст, размер и т.д.)
	Children []*Node                    `json:"children,omitempty"` // Children дочерние узлы в порядке отображения
}

// Find возвращает узел с данным id в поддереве n, либо nil.
func (n *Node) Find(id string) *Node {
	if n == nil {
		return nil
	}
	if n.ID == id {
		return n
	}
	for _, c := range n.Children {
		if found := c.Find(id); found != nil {
			return found
		}
	}
	return nil
}

// Walk обходит поддерево n в глубину, включая сам n.
// Обход прерывается, когда fn возвращает false.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	for _, c := range n.Children {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}
