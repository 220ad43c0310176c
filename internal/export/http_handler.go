package export

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rpattn/fieldsync/internal/apperr"
	"github.com/rpattn/fieldsync/internal/domain"
	"github.com/rpattn/fieldsync/internal/httpx"
)

// Handler serves GET /api/{kind}/export/?format=csv|xlsx|json. It accepts
// the same search, filter and ordering parameters as the list endpoint.
type Handler struct {
	service *Service
}

func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteJSON(w, http.StatusMethodNotAllowed, httpx.ErrorBody{Detail: "Method not allowed."})
		return
	}
	kind, err := httpx.KindParam(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	format, err := domain.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		httpx.WriteError(w, r, apperr.NewValidationError("format", err.Error()))
		return
	}
	filter, sort, err := httpx.ListFilter(r, kind)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if r.URL.Query().Get("ordering") == "" {
		sort = domain.EntitySort{}
	}

	// Buffer so a failure midway can still produce an error response.
	var buf bytes.Buffer
	summary, err := h.service.Export(r.Context(), Request{Kind: kind, Format: format, Filter: filter, Sort: sort}, &buf)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	filename := h.service.FileName(kind, format)
	w.Header().Set("Content-Type", format.MimeType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	w.Header().Set("Content-Length", strconv.FormatInt(summary.Bytes, 10))
	w.Header().Set("X-Export-Rows", strconv.Itoa(summary.Rows))
	w.Header().Set("X-Total-Count", strconv.FormatInt(summary.KindTotal, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
