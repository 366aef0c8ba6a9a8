package api

import "time"

// SnapshotInfo метаданные одной версии снапшота документа.
// Состояние не включается: его возвращает export-эндпоинт.
type SnapshotInfo struct {
	DocumentID string    `json:"document_id"`
	Version    string    `json:"version"`
	Watermark  int64     `json:"watermark"`
	Checksum   string    `json:"checksum"`
	CreatedAt  time.Time `json:"created_at"`
}

// SnapshotListResponse ответ GET /api/v1/documents/{id}/snapshots.
// Версии отсортированы от новейшей к старейшей.
type SnapshotListResponse struct {
	DocumentID string         `json:"document_id"`
	Snapshots  []SnapshotInfo `json:"snapshots"`
}

// ExportResponse ответ GET /api/v1/documents/{id}/export:
// восстановленный документ (последний снапшот + хвост журнала).
type ExportResponse struct {
	DocumentID string `json:"document_id"`
	Watermark  int64  `json:"watermark"`
	Document   *Node  `json:"document"`
}

// HealthResponse ответ GET /api/v1/health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Probes  map[string]string `json:"probes,omitempty"`
}
