package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"coursemail-engine/internal/events"
)

type CoursesHandler struct {
	Store     Store
	AccountID string
	Hub       *events.Hub
}

type addCourseReq struct {
	Name string `json:"name"`
}

func (h CoursesHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.Store.ListCourses(r.Context(), h.AccountID)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, list)
}

func (h CoursesHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req addCourseReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		WriteError(w, r, http.StatusBadRequest, "invalid_name", "name is required")
		return
	}

	c, err := h.Store.AddCourse(r.Context(), h.AccountID, req.Name)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	reqID := RequestIDFrom(r.Context())
	h.Hub.Publish(events.MakeRequestEvent(reqID, h.AccountID, events.CourseAdded, map[string]any{"id": c.ID, "name": c.Name}))
	WriteJSON(w, http.StatusCreated, c)
}
