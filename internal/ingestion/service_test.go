package ingestion

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/fieldsync/internal/domain"
	"github.com/rpattn/fieldsync/internal/repository"
	"github.com/rpattn/fieldsync/internal/service"
)

func newTestService(t *testing.T) (*Service, *service.EntityService) {
	t.Helper()
	logger := zerolog.Nop()
	entities := service.NewEntityService(repository.NewMemoryStore(), &logger)
	return NewService(entities, &logger), entities
}

func TestServiceIngestCSVCreatesEntities(t *testing.T) {
	svc, entities := newTestService(t)

	data := "\ufeffName,Contact Email,Phone,Active,Unused\n" +
		"Acme, OPS@acme.com ,555-0100,yes,x\n" +
		"\n" +
		"Globex,hq@globex.com,,,\n"

	result, err := svc.Ingest(context.Background(), domain.KindClient, "clients.csv", strings.NewReader(data))
	if err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}
	if result.Created != 2 || result.Failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	page, err := entities.List(context.Background(), domain.KindClient, service.ListQuery{Sort: domain.ParseOrdering("name")})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Count != 2 {
		t.Fatalf("expected 2 clients, got %d", page.Count)
	}
	acme := page.Results[0]
	if acme.Fields["contact_email"] != "ops@acme.com" {
		t.Fatalf("expected normalised email, got %v", acme.Fields["contact_email"])
	}
	if acme.Fields["is_active"] != true {
		t.Fatalf("expected yes to coerce to true, got %v", acme.Fields["is_active"])
	}
	if _, ok := page.Results[1].Fields["phone"]; ok {
		t.Fatalf("blank cells should be omitted")
	}
	if page.Results[1].Fields["is_active"] != true {
		t.Fatalf("expected default is_active for blank cell")
	}
}

func TestServiceIngestReportsRowErrors(t *testing.T) {
	svc, _ := newTestService(t)

	data := "name,contact_email\nAcme,not-an-email\n,nobody@example.com\nGlobex,hq@globex.com\n"
	result, err := svc.Ingest(context.Background(), domain.KindClient, "clients.csv", strings.NewReader(data))
	if err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}
	if result.Created != 1 || result.Failed != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Errors[0].Row != 1 || result.Errors[0].Field != "contact_email" {
		t.Fatalf("unexpected first error: %+v", result.Errors[0])
	}
	if result.Errors[1].Row != 2 || result.Errors[1].Message != "Name is required" {
		t.Fatalf("unexpected second error: %+v", result.Errors[1])
	}
}

func TestServiceRecordsRejectedRows(t *testing.T) {
	svc, _ := newTestService(t)
	svc.WithImportLog(repository.NewMemoryImportLogRepository())
	ctx := context.Background()

	data := "name,contact_email\nAcme,not-an-email\n,nobody@example.com\nGlobex,hq@globex.com\n"
	if _, err := svc.Ingest(ctx, domain.KindClient, "clients.csv", strings.NewReader(data)); err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}
	svc.BulkCreate(ctx, domain.KindClient, []map[string]any{{"phone": "555"}})

	logs, err := svc.Logs(ctx, domain.KindClient, "clients.csv", 0, 0)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 logged rows for clients.csv, got %+v", logs)
	}
	if logs[0].RowNumber != 2 || logs[0].Message != "Name is required" {
		t.Fatalf("unexpected newest entry: %+v", logs[0])
	}
	if logs[1].Field != "contact_email" {
		t.Fatalf("unexpected oldest entry: %+v", logs[1])
	}

	all, err := svc.Logs(ctx, domain.KindClient, "", 0, 0)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(all) != 3 || all[0].FileName != "" {
		t.Fatalf("expected the JSON bulk create to be logged without a file name, got %+v", all)
	}

	projects, _ := svc.Logs(ctx, domain.KindProject, "", 0, 0)
	if len(projects) != 0 {
		t.Fatalf("expected no project logs, got %+v", projects)
	}
}

func TestServiceIngestProjectsFromExcel(t *testing.T) {
	svc, entities := newTestService(t)
	ctx := context.Background()

	client, err := entities.Create(ctx, domain.KindClient, map[string]any{"name": "Acme"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}

	f := excelize.NewFile()
	rows := [][]any{
		{"Job Number", "Project Name", "Client", "Address", "Project Type", "Due Date", "Year"},
		{"25-001", "Warehouse", client.ID, "1 Main St", "M, E", "03/15/2025", 2025},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	result, err := svc.Ingest(ctx, domain.KindProject, "projects.xlsx", &buf)
	if err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	project := result.Entities[0]
	if project.Fields["client_id"] != client.ID {
		t.Fatalf("expected client reference %d, got %v", client.ID, project.Fields["client_id"])
	}
	if project.Fields["due_date"] != "2025-03-15" {
		t.Fatalf("expected normalised date, got %v", project.Fields["due_date"])
	}
	if !domain.ValuesEqual(project.Fields["project_type"], []string{"M", "E"}) {
		t.Fatalf("unexpected project type: %v", project.Fields["project_type"])
	}
	if project.Fields["year"] != int64(2025) {
		t.Fatalf("unexpected year: %#v", project.Fields["year"])
	}
}

func TestServiceParseJSON(t *testing.T) {
	svc, _ := newTestService(t)
	rows, err := svc.Parse(domain.KindProject, "rows.json", strings.NewReader(`[{"job_number": "1", "client_id": 4}]`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 1 || rows[0]["client_id"] != int64(4) {
		t.Fatalf("unexpected rows: %#v", rows)
	}
}

func TestServiceRejectsUnsupportedFormat(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Ingest(context.Background(), domain.KindClient, "clients.txt", strings.NewReader("name\nAcme\n"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestServicePreviewDoesNotPersist(t *testing.T) {
	svc, entities := newTestService(t)

	data := "name,website,shoe size\nStudio A,https://studio-a.test,9\nStudio B,ftp://nope,10\n"
	result, err := svc.Preview(domain.KindArchitect, "architects.csv", strings.NewReader(data), 0)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if result.TotalRows != 2 || result.InvalidRows != 1 {
		t.Fatalf("unexpected preview: %+v", result)
	}
	if len(result.IgnoredColumns) != 1 || result.IgnoredColumns[0] != "shoe size" {
		t.Fatalf("unexpected ignored columns: %v", result.IgnoredColumns)
	}
	if result.Rows[1].RowNumber != 3 || len(result.Rows[1].Errors) != 1 || result.Rows[1].Errors[0] != "Enter a valid URL" {
		t.Fatalf("unexpected second row: %+v", result.Rows[1])
	}

	page, err := entities.List(context.Background(), domain.KindArchitect, service.ListQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Count != 0 {
		t.Fatalf("preview created %d architects", page.Count)
	}
}

func TestSanitizeHeaders(t *testing.T) {
	got := sanitizeHeaders([]string{" Contact Email ", "name", "Name", "", "due-date"})
	want := []string{"contact_email", "name", "name_2", "column_4", "due_date"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("header %d: expected %q got %q", i, want[i], got[i])
		}
	}
}

func TestHTTPHandlerAcceptsJSONAndMultipart(t *testing.T) {
	svc, _ := newTestService(t)
	mux := http.NewServeMux()
	mux.Handle("POST /api/{kind}/bulk-create/", NewHTTPHandler(svc))

	req := httptest.NewRequest(http.MethodPost, "/api/clients/bulk-create/", strings.NewReader(`[{"name":"Acme"},{"name":""}]`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"created": 1`) {
		t.Fatalf("unexpected json response %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/clients/bulk-create/", strings.NewReader(`{"name":"Acme"}`))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "Expected a list of clients.") {
		t.Fatalf("unexpected response for object body %d: %s", rec.Code, rec.Body.String())
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, _ := writer.CreateFormFile("file", "clients.csv")
	_, _ = part.Write([]byte("name\nGlobex\nInitech\n"))
	_ = writer.Close()

	req = httptest.NewRequest(http.MethodPost, "/api/clients/bulk-create/", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"created": 2`) {
		t.Fatalf("unexpected multipart response %d: %s", rec.Code, rec.Body.String())
	}
}
