package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-dct/internal/journal"
)

// handleJournal returns command journal entries, newest first.
//
// Query parameters: kind, limit, offset.
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeUnavailable(w, "command journal not available")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{Kind: q.Get("kind")}
	if filter.Kind != "" && !journal.ValidKind(filter.Kind) {
		writeBadRequest(w, "unknown journal kind: "+filter.Kind)
		return
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be an integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be an integer")
		return
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing journal failed", "error", err)
		writeInternalError(w, "failed to list journal")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// intParam parses an optional integer query parameter. Empty is zero.
func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
