package httpapi

import (
	"net/http"
	"time"
)

type HealthHandler struct {
	Watcher Watcher
}

func (h HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"ok":   true,
		"time": time.Now().Format(time.RFC3339),
	}
	if h.Watcher != nil {
		st := h.Watcher.Status()
		out["state"] = st.State
		out["running"] = st.Running
	}
	WriteJSON(w, http.StatusOK, out)
}
