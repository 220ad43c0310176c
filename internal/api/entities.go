package api

import (
	"net/http"

	"github.com/rpattn/fieldsync/internal/domain"
	"github.com/rpattn/fieldsync/internal/httpx"
	"github.com/rpattn/fieldsync/internal/logging"
	"github.com/rpattn/fieldsync/internal/middleware"
	"github.com/rpattn/fieldsync/internal/service"
)

const defaultActivityLimit = 20

type entityHandler struct {
	entities *service.EntityService
}

func (h *entityHandler) list(w http.ResponseWriter, r *http.Request) {
	kind, err := httpx.KindParam(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	filter, sort, err := httpx.ListFilter(r, kind)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	page, err := httpx.IntParam(r, "page", 1)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	pageSize, err := httpx.IntParam(r, "page_size", service.DefaultPageSize)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	result, err := h.entities.List(r.Context(), kind, service.ListQuery{
		Filter:   filter,
		Sort:     sort,
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *entityHandler) create(w http.ResponseWriter, r *http.Request) {
	kind, err := httpx.KindParam(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	input, err := httpx.DecodeFields(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	created, err := h.entities.Create(r.Context(), kind, input)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, created)
}

func (h *entityHandler) get(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := kindAndID(w, r)
	if !ok {
		return
	}
	entity, err := h.entities.Get(r.Context(), kind, id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, entity)
}

func (h *entityHandler) patch(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, true)
}

func (h *entityHandler) replace(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, false)
}

func (h *entityHandler) update(w http.ResponseWriter, r *http.Request, partial bool) {
	kind, id, ok := kindAndID(w, r)
	if !ok {
		return
	}
	input, err := httpx.DecodeFields(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	updated, err := h.entities.Update(r.Context(), kind, id, input, partial)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, updated)
}

func (h *entityHandler) delete(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := kindAndID(w, r)
	if !ok {
		return
	}
	if err := h.entities.Delete(r.Context(), kind, id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *entityHandler) activities(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := kindAndID(w, r)
	if !ok {
		return
	}
	limit, offset, ok := paging(w, r)
	if !ok {
		return
	}
	if _, err := h.entities.Get(r.Context(), kind, id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	entries, err := h.entities.Activities(r.Context(), kind, id, limit, offset)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	writeActivity(w, r, entries)
}

func (h *entityHandler) recentActivity(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := paging(w, r)
	if !ok {
		return
	}
	entries, err := h.entities.RecentActivity(r.Context(), limit, offset)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	writeActivity(w, r, entries)
}

// writeActivity resolves current entity names before responding. A lookup
// failure keeps the recorded names.
func writeActivity(w http.ResponseWriter, r *http.Request, entries []domain.ActivityEntry) {
	if entries == nil {
		entries = []domain.ActivityEntry{}
	}
	if loader := middleware.EntityLoaderFromContext(r.Context()); loader != nil {
		if err := loader.ResolveNames(r.Context(), entries); err != nil {
			logging.FromContext(r.Context()).Warn().Err(err).Msg("failed to resolve activity entity names")
		}
	}
	httpx.WriteJSON(w, http.StatusOK, entries)
}

func kindAndID(w http.ResponseWriter, r *http.Request) (domain.Kind, int64, bool) {
	kind, err := httpx.KindParam(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return "", 0, false
	}
	id, err := httpx.IDParam(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return "", 0, false
	}
	return kind, id, true
}

func paging(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	limit, err := httpx.IntParam(r, "limit", defaultActivityLimit)
	if err != nil {
		httpx.WriteError(w, r, err)
		return 0, 0, false
	}
	offset, err := httpx.IntParam(r, "offset", 0)
	if err != nil {
		httpx.WriteError(w, r, err)
		return 0, 0, false
	}
	return limit, offset, true
}
