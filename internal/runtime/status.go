package runtime

import (
	"net/http"

	jsoncodec "github.com/drblury/userflow/internal/runtime/jsoncodec"
)

// Handlers returns a snapshot of every registered listener in registration order.
func (s *Service) Handlers() []HandlerSnapshot {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()

	out := make([]HandlerSnapshot, 0, len(s.handlers))
	for _, info := range s.handlers {
		out = append(out, info.Stats.snapshot(info))
	}
	return out
}

func (s *Service) handleGetHandlers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := jsoncodec.Marshal(s.Handlers())
	if err != nil {
		s.Logger.Error("Failed to encode handlers", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
