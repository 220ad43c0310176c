package ingestion

import (
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/fieldsync/internal/apperr"
	"github.com/rpattn/fieldsync/internal/httpx"
)

const maxUploadBytes = 32 << 20

// Handler serves POST /api/{kind}/bulk-create/.
type Handler struct {
	service *Service
}

// NewHTTPHandler wraps the service with a POST endpoint. It accepts either a
// JSON array of objects or a multipart upload with a "file" part. A
// multipart form with preview=true validates without creating anything.
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteJSON(w, http.StatusMethodNotAllowed, httpx.ErrorBody{Detail: "Method not allowed."})
		return
	}
	kind, err := httpx.KindParam(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var rows []map[string]any
		if err := httpx.DecodeJSON(r, &rows); err != nil {
			httpx.WriteError(w, r, apperr.NewValidationError("", "Expected a list of "+string(kind)+"."))
			return
		}
		for _, row := range rows {
			for key, value := range row {
				row[key] = httpx.NormalizeNumber(value)
			}
		}
		httpx.WriteJSON(w, http.StatusOK, h.service.BulkCreate(r.Context(), kind, rows))
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httpx.WriteError(w, r, apperr.NewValidationError("file", "invalid form data: "+err.Error()))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.WriteError(w, r, apperr.NewValidationError("file", "No file was submitted."))
		return
	}
	defer file.Close()

	if preview, _ := strconv.ParseBool(strings.TrimSpace(r.FormValue("preview"))); preview {
		limit, _ := strconv.Atoi(r.FormValue("limit"))
		result, err := h.service.Preview(kind, header.Filename, file, limit)
		if err != nil {
			httpx.WriteError(w, r, asUploadError(err))
			return
		}
		httpx.WriteJSON(w, http.StatusOK, result)
		return
	}

	result, err := h.service.Ingest(r.Context(), kind, header.Filename, file)
	if err != nil {
		httpx.WriteError(w, r, asUploadError(err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func asUploadError(err error) error {
	if apperr.IsInvalidInput(err) || apperr.IsNotFound(err) {
		return err
	}
	return apperr.NewValidationError("file", err.Error())
}

// LogHandler serves GET /api/{kind}/bulk-create/logs/, the rows rejected by
// earlier bulk creates. ?file= narrows to one upload.
type LogHandler struct {
	service *Service
}

// NewLogHandler wraps the service's import log.
func NewLogHandler(service *Service) http.Handler {
	return &LogHandler{service: service}
}

func (h *LogHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kind, err := httpx.KindParam(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	limit, err := httpx.IntParam(r, "limit", 200)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	offset, err := httpx.IntParam(r, "offset", 0)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	entries, err := h.service.Logs(r.Context(), kind, r.URL.Query().Get("file"), limit, offset)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, entries)
}
