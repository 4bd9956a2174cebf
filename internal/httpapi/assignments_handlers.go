package httpapi

import (
	"net/http"
	"strconv"

	"coursemail-engine/internal/store"
)

type AssignmentsHandler struct {
	Store     Store
	AccountID string
}

func (h AssignmentsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	list, err := h.Store.ListAssignments(r.Context(), h.AccountID, store.ListAssignmentsOpts{
		Status: q.Get("status"),
		Limit:  limit,
	})
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, list)
}
