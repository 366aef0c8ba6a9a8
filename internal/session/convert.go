package session

import (
	"encoding/json"

	"github.com/avdeyev/holst/internal/models"
	"github.com/avdeyev/holst/internal/presence"
	"github.com/avdeyev/holst/internal/scene"
	"github.com/avdeyev/holst/pkg/api"
)

// Конвертация между wire-DTO (pkg/api) и внутренними моделями.
// pkg/api намеренно не зависит от internal: это публичный контракт.

func opFromAPI(in *api.Operation) *models.Operation {
	return &models.Operation{
		Type:   models.OpType(in.Type),
		NodeID: in.NodeID,
		Version: models.Version{
			Counter: in.Version.Counter,
			Session: in.Version.Session,
		},
		Kind:     models.NodeKind(in.Kind),
		Parent:   in.Parent,
		Position: models.Position(in.Position),
		Fields:   in.Fields,
		Field:    in.Field,
		Value:    in.Value,
	}
}

func editFromAPI(in *api.Edit) *scene.Edit {
	return &scene.Edit{
		Type:   scene.EditType(in.Type),
		NodeID: in.NodeID,
		Kind:   models.NodeKind(in.Kind),
		Fields: in.Fields,
		Parent: in.Parent,
		Index:  in.Index,
		Field:  in.Field,
		Value:  in.Value,
	}
}

func opToAPI(in *models.Operation) api.Operation {
	return api.Operation{
		Type:   string(in.Type),
		NodeID: in.NodeID,
		Version: api.Version{
			Counter: in.Version.Counter,
			Session: in.Version.Session,
		},
		Kind:     string(in.Kind),
		Parent:   in.Parent,
		Position: []int64(in.Position),
		Fields:   in.Fields,
		Field:    in.Field,
		Value:    in.Value,
	}
}

func recordsToAPI(in []*models.OpRecord) []api.OpRecord {
	out := make([]api.OpRecord, 0, len(in))
	for _, rec := range in {
		op := rec.Op
		out = append(out, api.OpRecord{Seq: rec.Seq, Op: opToAPI(&op)})
	}
	return out
}

// NodeToAPI конвертирует материализованное дерево во wire-формат.
func NodeToAPI(in *models.Node) *api.Node {
	if in == nil {
		return nil
	}
	out := &api.Node{
		ID:     in.ID,
		Kind:   string(in.Kind),
		Parent: in.Parent,
		Fields: in.Fields,
	}
	for _, child := range in.Children {
		out.Children = append(out.Children, NodeToAPI(child))
	}
	return out
}

// presenceToAPI конвертирует запись трекера во wire-формат.
// State хранит клиентский payload кадра presence.
func presenceToAPI(in presence.Entry) api.PresenceState {
	out := api.PresenceState{
		SessionID: in.SessionID,
		UserID:    in.UserID,
		Idle:      in.Idle,
	}

	if len(in.State) > 0 {
		var push api.PresencePush
		if err := json.Unmarshal(in.State, &push); err == nil {
			out.Name = push.Name
			out.Color = push.Color
			out.Cursor = push.Cursor
			out.Selection = push.Selection
		}
	}
	return out
}

func rosterToAPI(in []presence.Entry) []api.PresenceState {
	out := make([]api.PresenceState, 0, len(in))
	for _, e := range in {
		out = append(out, presenceToAPI(e))
	}
	return out
}
