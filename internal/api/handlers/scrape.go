package handlers

import (
	"net/http"

	"github.com/govwatchmy/procurement-pipeline/pkg/logger"
)

// ScrapeHandler exposes the pipeline trigger and its status.
type ScrapeHandler struct {
	trigger ScrapeTrigger
	log     *logger.Logger
}

// NewScrapeHandler creates a scrape handler.
func NewScrapeHandler(trigger ScrapeTrigger, log *logger.Logger) *ScrapeHandler {
	if log == nil {
		log = logger.Default()
	}
	return &ScrapeHandler{
		trigger: trigger,
		log:     log.WithComponent("scrape-handler"),
	}
}

// Trigger handles POST /api/v1/scrape. The run executes synchronously and the
// caller always receives a structured result: soft failures ("0 records",
// "already in progress", "launch failed") are 200s with success=false, never
// stack traces.
func (h *ScrapeHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	result := h.trigger.Trigger(r.Context())
	if !result.Success {
		h.log.Warn("scrape completed unsuccessfully", "message", result.Message)
	}
	RespondJSON(w, http.StatusOK, result)
}

// Status handles GET /api/v1/scrape/status.
func (h *ScrapeHandler) Status(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.trigger.Status())
}
