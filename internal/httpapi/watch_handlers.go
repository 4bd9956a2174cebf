package httpapi

import (
	"net/http"
	"strconv"
)

type WatchHandler struct {
	Watcher Watcher
}

func (h WatchHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.Watcher == nil {
		WriteError(w, r, http.StatusServiceUnavailable, "no_watcher", "watcher is not running")
		return
	}
	WriteJSON(w, http.StatusOK, h.Watcher.Status())
}

// Check starts a pass. With ?wait=1 it runs the pass inside the request
// and returns its result.
func (h WatchHandler) Check(w http.ResponseWriter, r *http.Request) {
	if h.Watcher == nil {
		WriteError(w, r, http.StatusServiceUnavailable, "no_watcher", "watcher is not running")
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		res, ran, err := h.Watcher.CheckNow(r.Context())
		if err != nil {
			WriteError(w, r, http.StatusBadGateway, "pass_failed", err.Error())
			return
		}
		if !ran {
			WriteJSON(w, http.StatusOK, map[string]any{"ok": false, "msg": "already running"})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "result": res})
		return
	}

	if !h.Watcher.Trigger() {
		WriteJSON(w, http.StatusOK, map[string]any{"ok": false, "msg": "already running"})
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}
