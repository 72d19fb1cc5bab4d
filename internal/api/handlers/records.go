package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/govwatchmy/procurement-pipeline/internal/extract"
	"github.com/govwatchmy/procurement-pipeline/internal/normalize"
	"github.com/govwatchmy/procurement-pipeline/pkg/logger"
)

const manualUploadSource = "manual-upload"

// maxUploadBytes caps the bulk upload body at 10 MB.
const maxUploadBytes = 10 << 20

// RecordsHandler accepts bulk uploads of raw records, typically produced by
// the browser console extractor script.
type RecordsHandler struct {
	sink RecordSink
	norm *normalize.Normalizer
	log  *logger.Logger
}

// NewRecordsHandler creates a records handler.
func NewRecordsHandler(sink RecordSink, log *logger.Logger) *RecordsHandler {
	if log == nil {
		log = logger.Default()
	}
	return &RecordsHandler{
		sink: sink,
		norm: normalize.New(),
		log:  log.WithComponent("records-handler"),
	}
}

type uploadResponse struct {
	InsertedCount int `json:"insertedCount"`
	Dropped       int `json:"dropped,omitempty"`
}

// Upload handles POST /api/v1/records. The body is a JSON array of raw field
// maps; each entry runs through the same normalization as scraped records and
// duplicates already in the store are skipped, not updated.
func (h *RecordsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	var payload []map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondError(w, http.StatusBadRequest, ErrCodeBadRequest, "request body must be a JSON array of records")
		return
	}
	if len(payload) == 0 {
		RespondError(w, http.StatusBadRequest, ErrCodeBadRequest, "no records in request body")
		return
	}

	raws := make([]extract.RawRecord, 0, len(payload))
	for _, fields := range payload {
		raws = append(raws, extract.RawRecord{Fields: fields, SourceURL: manualUploadSource})
	}

	records, dropped := h.norm.Records(raws)
	inserted, err := h.sink.InsertBatch(r.Context(), records)
	if err != nil {
		h.log.WithError(err).Error("bulk insert failed")
		RespondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to store records")
		return
	}

	h.log.Info("bulk upload processed",
		"received", len(payload),
		"inserted", inserted,
		"dropped", dropped,
	)
	RespondJSON(w, http.StatusOK, uploadResponse{InsertedCount: inserted, Dropped: dropped})
}
