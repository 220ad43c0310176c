package restclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rpattn/fieldsync/internal/domain"
)

// Resource exposes CRUD for one kind under /{kind}/.
type Resource struct {
	client *Client
	kind   domain.Kind
}

// ListParams are the query parameters of a list request.
type ListParams struct {
	Page     int
	PageSize int
	Search   string
	Ordering string
	IsActive *bool
	// Filters are field filters (status=in_progress, project_type=M,E) and
	// project flags such as overdue=true.
	Filters map[string]string
}

// Values encodes the parameters as a query string.
func (p ListParams) Values() url.Values {
	v := url.Values{}
	if p.Page > 0 {
		v.Set("page", strconv.Itoa(p.Page))
	}
	if p.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(p.PageSize))
	}
	if p.Search != "" {
		v.Set("search", p.Search)
	}
	if p.Ordering != "" {
		v.Set("ordering", p.Ordering)
	}
	if p.IsActive != nil {
		v.Set("is_active", strconv.FormatBool(*p.IsActive))
	}
	for k, val := range p.Filters {
		v.Set(k, val)
	}
	return v
}

type wirePage struct {
	Count      int              `json:"count"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalPages int              `json:"total_pages"`
	Results    []map[string]any `json:"results"`
}

type wireBulkResult struct {
	Created  int                   `json:"created"`
	Failed   int                   `json:"failed"`
	Entities []map[string]any      `json:"entities"`
	Errors   []domain.BulkRowError `json:"errors"`
}

// Kind returns the resource kind.
func (r *Resource) Kind() domain.Kind {
	return r.kind
}

func (r *Resource) collectionPath() string {
	return "/" + string(r.kind) + "/"
}

func (r *Resource) itemPath(id int64) string {
	return fmt.Sprintf("/%s/%d/", r.kind, id)
}

// List fetches one page.
func (r *Resource) List(ctx context.Context, params ListParams) (domain.Page, error) {
	path := r.collectionPath()
	if q := params.Values().Encode(); q != "" {
		path += "?" + q
	}
	var page wirePage
	if err := r.client.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return domain.Page{}, err
	}
	entities, err := r.decodeAll(page.Results)
	if err != nil {
		return domain.Page{}, err
	}
	return domain.Page{
		Count:      page.Count,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalPages: page.TotalPages,
		Results:    entities,
	}, nil
}

// Get fetches one entity.
func (r *Resource) Get(ctx context.Context, id int64) (domain.Entity, error) {
	return r.entityRequest(ctx, http.MethodGet, r.itemPath(id), nil)
}

// Create posts a new entity.
func (r *Resource) Create(ctx context.Context, fields map[string]any) (domain.Entity, error) {
	return r.entityRequest(ctx, http.MethodPost, r.collectionPath(), fields)
}

// Patch applies a partial update.
func (r *Resource) Patch(ctx context.Context, id int64, fields map[string]any) (domain.Entity, error) {
	return r.entityRequest(ctx, http.MethodPatch, r.itemPath(id), fields)
}

// Replace applies a full update.
func (r *Resource) Replace(ctx context.Context, id int64, fields map[string]any) (domain.Entity, error) {
	return r.entityRequest(ctx, http.MethodPut, r.itemPath(id), fields)
}

// Delete removes (or archives) an entity.
func (r *Resource) Delete(ctx context.Context, id int64) error {
	return r.client.do(ctx, http.MethodDelete, r.itemPath(id), nil, nil)
}

// UpdateField PATCHes {field: value} and returns the server representation.
// Its signature matches reconcile.UpdateFunc[int64].
func (r *Resource) UpdateField(ctx context.Context, id int64, field string, value any) (map[string]any, error) {
	var out map[string]any
	if err := r.client.do(ctx, http.MethodPatch, r.itemPath(id), map[string]any{field: value}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BulkCreate posts rows as a JSON array.
func (r *Resource) BulkCreate(ctx context.Context, rows []map[string]any) (domain.BulkCreateResult, error) {
	var out wireBulkResult
	if err := r.client.do(ctx, http.MethodPost, r.collectionPath()+"bulk-create/", rows, &out); err != nil {
		return domain.BulkCreateResult{}, err
	}
	return r.bulkResult(out)
}

// BulkCreateFile uploads a CSV or XLSX file as multipart form data.
func (r *Resource) BulkCreateFile(ctx context.Context, filename string, content io.Reader) (domain.BulkCreateResult, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return domain.BulkCreateResult{}, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return domain.BulkCreateResult{}, fmt.Errorf("failed to copy upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return domain.BulkCreateResult{}, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	var out wireBulkResult
	target := r.client.baseURL + r.collectionPath() + "bulk-create/"
	if err := r.client.doURL(ctx, http.MethodPost, target, &buf, writer.FormDataContentType(), &out); err != nil {
		return domain.BulkCreateResult{}, err
	}
	return r.bulkResult(out)
}

// Export downloads the collection in format and returns the body and its
// content type.
func (r *Resource) Export(ctx context.Context, format domain.ExportFormat, params ListParams) ([]byte, string, error) {
	q := params.Values()
	q.Set("format", string(format))
	target := r.client.baseURL + r.collectionPath() + "export/?" + q.Encode()

	resp, err := r.client.send(ctx, http.MethodGet, target, nil, "")
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read export: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// Activities lists the activity log of one entity, newest first.
func (r *Resource) Activities(ctx context.Context, id int64) ([]domain.ActivityEntry, error) {
	var out []domain.ActivityEntry
	if err := r.client.do(ctx, http.MethodGet, r.itemPath(id)+"activities/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Resource) entityRequest(ctx context.Context, method, path string, body map[string]any) (domain.Entity, error) {
	var raw map[string]any
	var payload any
	if body != nil {
		payload = body
	}
	if err := r.client.do(ctx, method, path, payload, &raw); err != nil {
		return domain.Entity{}, err
	}
	return r.decode(raw)
}

func (r *Resource) decode(raw map[string]any) (domain.Entity, error) {
	entity, err := domain.EntityFromRepresentation(r.kind, raw)
	if err != nil {
		return domain.Entity{}, fmt.Errorf("failed to decode %s: %w", r.kind.Singular(), err)
	}
	return entity, nil
}

func (r *Resource) decodeAll(raws []map[string]any) ([]domain.Entity, error) {
	entities := make([]domain.Entity, 0, len(raws))
	for _, raw := range raws {
		entity, err := r.decode(raw)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

func (r *Resource) bulkResult(out wireBulkResult) (domain.BulkCreateResult, error) {
	entities, err := r.decodeAll(out.Entities)
	if err != nil {
		return domain.BulkCreateResult{}, err
	}
	return domain.BulkCreateResult{
		Created:  out.Created,
		Failed:   out.Failed,
		Entities: entities,
		Errors:   out.Errors,
	}, nil
}
