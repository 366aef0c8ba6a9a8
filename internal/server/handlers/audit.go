package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/avdeyev/holst/internal/crdt"
	"github.com/avdeyev/holst/internal/models"
	"github.com/avdeyev/holst/internal/session"
	"github.com/avdeyev/holst/pkg/api"
)

// SnapshotLister читает метаданные снапшотов документа.
type SnapshotLister interface {
	ListSnapshots(ctx context.Context, documentID string) ([]*models.Snapshot, error)
}

// Restorer восстанавливает документ из durable-хранилища.
type Restorer interface {
	Restore(ctx context.Context, documentID string) (*crdt.Document, int64, error)
}

// AuditHandler обслуживает аудиторские read-only эндпоинты: список
// версий снапшотов и экспорт восстановленного документа. Пишущих
// эндпоинтов у аудита нет.
type AuditHandler struct {
	logger    *slog.Logger
	snapshots SnapshotLister
	restorer  Restorer
}

// NewAuditHandler создает handler аудиторских эндпоинтов.
func NewAuditHandler(logger *slog.Logger, snapshots SnapshotLister, restorer Restorer) *AuditHandler {
	return &AuditHandler{
		logger:    logger,
		snapshots: snapshots,
		restorer:  restorer,
	}
}

// ListSnapshots обрабатывает GET /api/v1/documents/{documentID}/snapshots
func (h *AuditHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["documentID"]

	snaps, err := h.snapshots.ListSnapshots(r.Context(), documentID)
	if err != nil {
		h.logger.Error("failed to list snapshots",
			"document_id", documentID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resp := api.SnapshotListResponse{
		DocumentID: documentID,
		Snapshots:  make([]api.SnapshotInfo, 0, len(snaps)),
	}
	for _, snap := range snaps {
		resp.Snapshots = append(resp.Snapshots, api.SnapshotInfo{
			DocumentID: snap.DocumentID,
			Version:    snap.Version,
			Watermark:  snap.Watermark,
			Checksum:   snap.Checksum,
			CreatedAt:  snap.CreatedAt,
		})
	}

	h.writeJSON(w, resp)
}

// Export обрабатывает GET /api/v1/documents/{documentID}/export
// Возвращает документ, восстановленный из последнего снапшота и хвоста
// журнала - то же состояние, что получила бы новая комната.
func (h *AuditHandler) Export(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["documentID"]

	doc, watermark, err := h.restorer.Restore(r.Context(), documentID)
	if err != nil {
		h.logger.Error("failed to restore document",
			"document_id", documentID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resp := api.ExportResponse{
		DocumentID: documentID,
		Watermark:  watermark,
		Document:   session.NodeToAPI(doc.Tree()),
	}

	h.writeJSON(w, resp)
}

func (h *AuditHandler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
