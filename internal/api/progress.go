package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// streamProgress handles GET /v1/jobs/{job_id}/progress as a server-sent
// event stream. One event is emitted per observed snapshot; the stream
// ends after the terminal snapshot or when the client disconnects.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	if s.watcher == nil {
		s.writeError(w, http.StatusServiceUnavailable, "progress streaming unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	jobID := chi.URLParam(r, "job_id")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for snapshot := range s.watcher.Watch(r.Context(), jobID) {
		data, err := json.Marshal(snapshot)
		if err != nil {
			s.logger.Error("marshal progress snapshot", zap.Error(err))
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}
}
