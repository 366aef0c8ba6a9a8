package crdt

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/avdeyev/holst/internal/models"
)

// fieldRegister представляет LWW-регистр одного поля узла.
type fieldRegister struct {
	Value   json.RawMessage `json:"value"`
	Version models.Version  `json:"version"`
}

// nodeState представляет полное реплицируемое состояние одного узла:
// регистр вставки, структурный регистр (родитель + позиция) и отдельный
// LWW-регистр на каждое поле - конкурентные правки разных полей одного
// узла не конфликтуют между собой.
type nodeState struct {
	Fields   map[string]*fieldRegister `json:"fields,omitempty"`
	ID       string                    `json:"id"`
	Kind     models.NodeKind           `json:"kind,omitempty"`
	Parent   string                    `json:"parent,omitempty"`
	Position models.Position           `json:"position,omitempty"`
	Created  models.Version            `json:"created"` // версия операции вставки
	Placed   models.Version            `json:"placed"`  // версия структурного регистра
	Removed  models.Version            `json:"removed"` // версия операции удаления
	Deleted  bool                      `json:"deleted"`
}

// pending возвращает true, если операция над узлом пришла раньше его
// вставки. Такой узел хранится, но не материализуется, пока не придет
// insert - это сохраняет коммутативность слияния без буферизации.
func (n *nodeState) pending() bool {
	return n.Created.Zero() && n.ID != models.RootNodeID
}

// Tombstone удаленный узел вместе с удержанными данными. Конкурентные
// правки удаленного узла не пропадают: они сливаются в поля tombstone
// и остаются доступными для инспекции.
type Tombstone struct {
	Fields  map[string]json.RawMessage `json:"fields,omitempty"`
	NodeID  string                     `json:"node_id"`
	Kind    models.NodeKind            `json:"kind,omitempty"`
	Parent  string                     `json:"parent,omitempty"`
	Removed models.Version             `json:"removed"`
}

// Document представляет CRDT-реплику одного документа сцены.
// Слияние операций коммутативно и идемпотентно: применение одного и того
// же набора операций в любом порядке, в том числе повторно, дает одно и
// то же состояние. Конфликты разрешаются единым тотальным порядком версий
// (Counter, затем Session) - см. models.Version.Compare. Все методы
// потокобезопасны; мутация сериализуется мьютексом документа.
type Document struct {
	nodes map[string]*nodeState
	clock *LamportClock
	id    string
	mu    sync.RWMutex
}

// NewDocument создает пустой документ: один корневой узел холста.
func NewDocument(id string) *Document {
	d := &Document{
		id:    id,
		nodes: make(map[string]*nodeState),
		clock: NewLamportClock(),
	}
	d.nodes[models.RootNodeID] = &nodeState{
		ID:   models.RootNodeID,
		Kind: models.NodeKindRoot,
	}
	return d
}

// ID возвращает идентификатор документа.
func (d *Document) ID() string {
	return d.id
}

// NextVersion выдает версию для новой локальной операции данной сессии.
func (d *Document) NextVersion(sessionID string) models.Version {
	return models.Version{Counter: d.clock.Tick(), Session: sessionID}
}

// ApplyLocal применяет локально созданную операцию (версия уже выдана
// NextVersion). Возвращает true, если операция изменила видимое состояние.
func (d *Document) ApplyLocal(op *models.Operation) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.apply(op)
}

// Merge сливает операцию, полученную от другой реплики: двигает часы
// по метке источника и применяет операцию. Повторная и переупорядоченная
// доставка безопасны. Возвращает true, если видимое состояние изменилось.
func (d *Document) Merge(op *models.Operation) bool {
	d.clock.Update(op.Version.Counter)

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.apply(op)
}

// apply применяет одну операцию. Вызывается под мьютексом.
func (d *Document) apply(op *models.Operation) bool {
	switch op.Type {
	case models.OpInsert:
		return d.applyInsert(op)
	case models.OpDelete:
		return d.applyDelete(op)
	case models.OpSet:
		return d.applySet(op)
	case models.OpMove:
		return d.applyMove(op)
	}
	return false
}

func (d *Document) node(id string) *nodeState {
	n, ok := d.nodes[id]
	if !ok {
		// Операция пришла раньше вставки узла: заводим ожидающее
		// состояние, insert заполнит его позже.
		n = &nodeState{ID: id}
		d.nodes[id] = n
	}
	return n
}

func (d *Document) applyInsert(op *models.Operation) bool {
	if op.NodeID == models.RootNodeID {
		return false
	}

	n := d.node(op.NodeID)
	changed := false

	if n.Created.Zero() {
		n.Created = op.Version
		n.Kind = op.Kind
		changed = true
	}

	if op.Version.Newer(n.Placed) {
		n.Parent = op.Parent
		n.Position = op.Position.Clone()
		n.Placed = op.Version
		changed = true
	}

	for field, value := range op.Fields {
		if d.mergeField(n, field, value, op.Version) {
			changed = true
		}
	}

	return changed
}

func (d *Document) applyDelete(op *models.Operation) bool {
	// Корень холста неудаляем.
	if op.NodeID == models.RootNodeID {
		return false
	}

	n := d.node(op.NodeID)

	// Удаление выигрывает у любой конкурентной правки: версия удаления
	// не участвует в LWW-споре с регистрами полей, она только фиксирует
	// сам факт. Данные правок остаются в полях tombstone.
	changed := !n.Deleted
	n.Deleted = true
	if op.Version.Newer(n.Removed) {
		n.Removed = op.Version
	}

	return changed
}

func (d *Document) applySet(op *models.Operation) bool {
	n := d.node(op.NodeID)
	return d.mergeField(n, op.Field, op.Value, op.Version)
}

func (d *Document) applyMove(op *models.Operation) bool {
	if op.NodeID == models.RootNodeID {
		return false
	}

	n := d.node(op.NodeID)
	if !op.Version.Newer(n.Placed) {
		return false
	}

	n.Parent = op.Parent
	n.Position = op.Position.Clone()
	n.Placed = op.Version
	return true
}

// mergeField сливает значение одного поля по правилу LWW.
func (d *Document) mergeField(n *nodeState, field string, value json.RawMessage, v models.Version) bool {
	if field == "" {
		return false
	}
	if n.Fields == nil {
		n.Fields = make(map[string]*fieldRegister)
	}

	existing, ok := n.Fields[field]
	if ok && !v.Newer(existing.Version) {
		return false
	}

	n.Fields[field] = &fieldRegister{
		Value:   append(json.RawMessage(nil), value...),
		Version: v,
	}
	// Правка удаленного узла видимого состояния не меняет,
	// но данные удержаны в tombstone.
	return !n.Deleted
}

// Tree материализует документ в дерево узлов для редактора.
// Дети каждого узла отсортированы по (позиция, версия вставки) - порядок
// одинаков на всех репликах независимо от порядка доставки. Узлы,
// недостижимые из корня (ожидающие вставки, потомки удаленных узлов,
// участники цикла после слияния конкурентных перемещений), в дерево
// не попадают: обход идет строго от корня.
func (d *Document) Tree() *models.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()

	children := d.childrenByParent()

	var build func(id string) *models.Node
	build = func(id string) *models.Node {
		state := d.nodes[id]
		node := &models.Node{
			ID:     id,
			Kind:   state.Kind,
			Parent: state.Parent,
			Fields: fieldValues(state.Fields),
		}
		for _, childID := range children[id] {
			node.Children = append(node.Children, build(childID))
		}
		return node
	}

	return build(models.RootNodeID)
}

// childrenByParent возвращает живых детей каждого родителя в порядке
// отображения. Вызывается под мьютексом.
func (d *Document) childrenByParent() map[string][]string {
	children := make(map[string][]string)
	for id, n := range d.nodes {
		if id == models.RootNodeID || n.Deleted || n.pending() {
			continue
		}
		children[n.Parent] = append(children[n.Parent], id)
	}
	for parent, ids := range children {
		sort.Slice(ids, func(i, j int) bool {
			return d.siblingLess(d.nodes[ids[i]], d.nodes[ids[j]])
		})
		children[parent] = ids
	}
	return children
}

// siblingLess задает порядок сиблингов: сначала позиция, при равных
// позициях (две сессии конкурентно вставили в одно место) - версия
// вставки. Порядок тотален и одинаков на всех репликах.
func (d *Document) siblingLess(a, b *nodeState) bool {
	if c := models.ComparePositions(a.Position, b.Position); c != 0 {
		return c < 0
	}
	if c := a.Created.Compare(b.Created); c != 0 {
		return c < 0
	}
	return a.ID < b.ID
}

func fieldValues(regs map[string]*fieldRegister) map[string]json.RawMessage {
	if len(regs) == 0 {
		return nil
	}
	out := make(map[string]json.RawMessage, len(regs))
	for field, reg := range regs {
		out[field] = append(json.RawMessage(nil), reg.Value...)
	}
	return out
}

// Contains возвращает true, если узел материализован (вставлен и не удален).
func (d *Document) Contains(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n, ok := d.nodes[id]
	return ok && !n.Deleted && !n.pending()
}

// ParentOf возвращает текущего родителя узла.
func (d *Document) ParentOf(id string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n, ok := d.nodes[id]
	if !ok || n.Deleted || n.pending() {
		return "", false
	}
	return n.Parent, true
}

// IsAncestor возвращает true, если ancestor является предком node
// (или самим node) в текущем состоянии документа.
func (d *Document) IsAncestor(ancestor, node string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	// Цепочка родителей может входить в цикл от конкурентных
	// перемещений; повторный узел обрывает обход.
	seen := make(map[string]struct{})
	for id := node; ; {
		if id == ancestor {
			return true
		}
		if _, dup := seen[id]; dup {
			return false
		}
		seen[id] = struct{}{}

		n, ok := d.nodes[id]
		if !ok || id == models.RootNodeID {
			return false
		}
		id = n.Parent
	}
}

// SiblingSlot позиция одного живого ребенка родителя.
type SiblingSlot struct {
	NodeID   string
	Position models.Position
}

// Siblings возвращает живых детей родителя в порядке отображения.
// Используется семантическим слоем для вычисления позиции вставки.
func (d *Document) Siblings(parent string) []SiblingSlot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := d.childrenByParent()[parent]
	slots := make([]SiblingSlot, 0, len(ids))
	for _, id := range ids {
		slots = append(slots, SiblingSlot{
			NodeID:   id,
			Position: d.nodes[id].Position.Clone(),
		})
	}
	return slots
}

// Field возвращает текущее значение поля узла.
func (d *Document) Field(nodeID, field string) (json.RawMessage, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n, ok := d.nodes[nodeID]
	if !ok {
		return nil, false
	}
	reg, ok := n.Fields[field]
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), reg.Value...), true
}

// Tombstones возвращает удаленные узлы вместе с удержанными данными,
// отсортированные по идентификатору.
func (d *Document) Tombstones() []*Tombstone {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*Tombstone, 0)
	for id, n := range d.nodes {
		if !n.Deleted {
			continue
		}
		out = append(out, &Tombstone{
			NodeID:  id,
			Kind:    n.Kind,
			Parent:  n.Parent,
			Removed: n.Removed,
			Fields:  fieldValues(n.Fields),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// documentState сериализуемое состояние документа для снапшотов.
type documentState struct {
	Nodes []*nodeState `json:"nodes"`
	Clock int64        `json:"clock"`
}

// MarshalState сериализует полное состояние документа (включая tombstones
// и ожидающие узлы). Узлы отсортированы по идентификатору: одинаковое
// состояние всегда дает одинаковые байты и контрольную сумму.
func (d *Document) MarshalState() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	state := documentState{
		Clock: d.clock.GetTimestamp(),
		Nodes: make([]*nodeState, 0, len(d.nodes)),
	}
	for _, n := range d.nodes {
		state.Nodes = append(state.Nodes, n)
	}
	sort.Slice(state.Nodes, func(i, j int) bool { return state.Nodes[i].ID < state.Nodes[j].ID })

	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document state: %w", err)
	}
	return data, nil
}

// LoadDocument восстанавливает документ из сериализованного состояния.
func LoadDocument(id string, data []byte) (*Document, error) {
	var state documentState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document state: %w", err)
	}

	d := NewDocument(id)
	d.clock.SetTimestamp(state.Clock)
	for _, n := range state.Nodes {
		d.nodes[n.ID] = n
	}
	if _, ok := d.nodes[models.RootNodeID]; !ok {
		d.nodes[models.RootNodeID] = &nodeState{
			ID:   models.RootNodeID,
			Kind: models.NodeKindRoot,
		}
	}
	return d, nil
}
