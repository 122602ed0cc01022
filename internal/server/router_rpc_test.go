package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/orbit/backend/internal/graph"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/ingest"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/realtime"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubIngester struct {
	result ingest.Result
	err    error
	texts  []string
}

func (s *stubIngester) Ingest(_ context.Context, text string) (ingest.Result, error) {
	s.texts = append(s.texts, text)
	return s.result, s.err
}

type rpcFixture struct {
	handler  http.Handler
	service  *graph.Service
	ingester *stubIngester
	realtime *realtime.Dispatcher
}

func newRPCFixture(t *testing.T) *rpcFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "server.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(graph.Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	service, err := graph.NewService(graph.ServiceConfig{Database: db, IDProvider: graph.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to build graph service: %v", err)
	}
	fixture := &rpcFixture{service: service, ingester: &stubIngester{}, realtime: realtime.NewDispatcher()}
	fixture.handler, err = NewHTTPHandler(Dependencies{
		Graph:          service,
		Ingester:       fixture.ingester,
		Realtime:       fixture.realtime,
		Logger:         zap.NewNop(),
		MaxUploadBytes: 1024,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return fixture
}

func (f *rpcFixture) call(t *testing.T, procedure string, input any, output any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if input != nil {
		if err := json.NewEncoder(&body).Encode(input); err != nil {
			t.Fatalf("encode input: %v", err)
		}
	}
	request := httptest.NewRequest(http.MethodPost, "/rpc/"+procedure, &body)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	if output != nil && recorder.Code == http.StatusOK {
		if err := json.Unmarshal(recorder.Body.Bytes(), output); err != nil {
			t.Fatalf("decode %s response: %v (%s)", procedure, err, recorder.Body.String())
		}
	}
	return recorder
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func decodeError(t *testing.T, recorder *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, recorder.Body.String())
	}
	return body
}

func TestNodeProceduresRoundTrip(t *testing.T) {
	fixture := newRPCFixture(t)

	var created graph.Node
	recorder := fixture.call(t, "node.create", map[string]any{"label": "Jane Doe", "type": "person"}, &created)
	if recorder.Code != http.StatusOK {
		t.Fatalf("create failed: %d %s", recorder.Code, recorder.Body.String())
	}
	if created.ID == "" || created.AddedBy != graph.ProvenanceUser {
		t.Fatalf("unexpected node: %+v", created)
	}

	var listed []graph.Node
	if recorder := fixture.call(t, "node.list", nil, &listed); recorder.Code != http.StatusOK {
		t.Fatalf("list failed: %d", recorder.Code)
	}
	if len(listed) != 1 || listed[0].ID != created.ID {
		t.Fatalf("unexpected list: %+v", listed)
	}

	var found []graph.Node
	fixture.call(t, "node.search", map[string]any{"query": "jane"}, &found)
	if len(found) != 1 {
		t.Fatalf("expected search hit, got %+v", found)
	}

	var archived graph.Node
	fixture.call(t, "node.archive", map[string]any{"id": created.ID}, &archived)
	if !archived.Archived {
		t.Fatalf("expected node to be archived")
	}
	fixture.call(t, "node.list", map[string]any{"includeArchived": false}, &listed)
	if len(listed) != 0 {
		t.Fatalf("expected archived node to be hidden, got %d", len(listed))
	}

	var recolored graph.Node
	fixture.call(t, "node.updateColors", map[string]any{"id": created.ID, "colorHexLight": "#ffffff", "colorHexDark": "#000000"}, &recolored)
	if recolored.ColorHexLight != "#ffffff" || recolored.ColorHexDark != "#000000" {
		t.Fatalf("unexpected colors: %+v", recolored)
	}

	if recorder := fixture.call(t, "node.delete", map[string]any{"id": created.ID}, nil); recorder.Code != http.StatusOK {
		t.Fatalf("delete failed: %d", recorder.Code)
	}
}

func TestProcedureErrorMapping(t *testing.T) {
	fixture := newRPCFixture(t)

	recorder := fixture.call(t, "node.create", map[string]any{"label": "  "}, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if body := decodeError(t, recorder); body.Error != "graph.create_node.invalid_input" || body.Message == "" {
		t.Fatalf("unexpected error body: %+v", body)
	}

	recorder = fixture.call(t, "node.delete", map[string]any{"id": "missing"}, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}

	request := httptest.NewRequest(http.MethodPost, "/rpc/node.create", bytes.NewBufferString("{"))
	recorder = httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusBadRequest || decodeError(t, recorder).Error != codeInvalidRequest {
		t.Fatalf("expected malformed body to be rejected, got %d %s", recorder.Code, recorder.Body.String())
	}

	recorder = fixture.call(t, "event.addTags", map[string]any{"tags": []string{"work"}}, nil)
	if recorder.Code != http.StatusBadRequest || decodeError(t, recorder).Error != codeInvalidRequest {
		t.Fatalf("expected missing eventId to fail binding, got %d %s", recorder.Code, recorder.Body.String())
	}

	request = httptest.NewRequest(http.MethodPost, "/rpc/node.list", nil)
	recorder = httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected empty body to bind to defaults, got %d %s", recorder.Code, recorder.Body.String())
	}

	recorder = fixture.call(t, "node.teleport", nil, nil)
	if recorder.Code != http.StatusNotFound || decodeError(t, recorder).Error != codeUnknownProcedure {
		t.Fatalf("expected unknown procedure, got %d %s", recorder.Code, recorder.Body.String())
	}
}

func TestIngestProcedureErrorMapping(t *testing.T) {
	testCases := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{name: "empty", err: ingest.ErrEmptyText, status: http.StatusBadRequest, code: codeInvalidRequest},
		{name: "no names", err: ingest.ErrNoNames, status: http.StatusUnprocessableEntity, code: codeNoNames},
		{name: "extraction", err: fmt.Errorf("%w: %w", ingest.ErrExtractionFailed, errors.New("timeout")), status: http.StatusBadGateway, code: codeExtractionFailed},
		{name: "other", err: errors.New("disk full"), status: http.StatusInternalServerError, code: codeInternal, message: "internal error"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			fixture := newRPCFixture(t)
			fixture.ingester.err = testCase.err

			recorder := fixture.call(t, "ingest.process", map[string]any{"text": "Met Jane"}, nil)
			if recorder.Code != testCase.status {
				t.Fatalf("expected %d, got %d", testCase.status, recorder.Code)
			}
			body := decodeError(t, recorder)
			if body.Error != testCase.code {
				t.Fatalf("expected code %q, got %q", testCase.code, body.Error)
			}
			if testCase.message != "" && body.Message != testCase.message {
				t.Fatalf("expected message %q, got %q", testCase.message, body.Message)
			}
		})
	}
}

func TestIngestProcedureReturnsResult(t *testing.T) {
	fixture := newRPCFixture(t)
	fixture.ingester.result = ingest.Result{NodeIDs: []string{"n1"}, EventIDs: []string{"e1"}, CreatedNodeIDs: []string{"n1"}}

	var response struct {
		NodeIDs      []string `json:"nodeIds"`
		EventIDs     []string `json:"eventIds"`
		CreatedNodes []string `json:"createdNodes"`
	}
	recorder := fixture.call(t, "ingest.process", map[string]any{"text": "Met Jane Doe today"}, &response)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
	if len(response.NodeIDs) != 1 || response.CreatedNodes[0] != "n1" || response.EventIDs[0] != "e1" {
		t.Fatalf("unexpected response: %+v", response)
	}
	if len(fixture.ingester.texts) != 1 || fixture.ingester.texts[0] != "Met Jane Doe today" {
		t.Fatalf("unexpected ingested texts: %v", fixture.ingester.texts)
	}
}

func TestLinkProcedures(t *testing.T) {
	fixture := newRPCFixture(t)
	ctx := context.Background()
	first, err := fixture.service.CreateNode(ctx, graph.NodeInput{Label: "Jane"})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}
	second, err := fixture.service.CreateNode(ctx, graph.NodeInput{Label: "Acme"})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}

	var link graph.Link
	recorder := fixture.call(t, "link.create", map[string]any{"nodeIds": []string{second.ID, first.ID}, "role": "Co-Founder"}, &link)
	if recorder.Code != http.StatusOK {
		t.Fatalf("link create failed: %d %s", recorder.Code, recorder.Body.String())
	}
	if link.NodeAID >= link.NodeBID {
		t.Fatalf("expected canonical order, got %s %s", link.NodeAID, link.NodeBID)
	}
	if len(link.Roles) != 1 || link.Roles[0].Slug != "co-founder" {
		t.Fatalf("unexpected roles: %+v", link.Roles)
	}

	if recorder := fixture.call(t, "link.create", map[string]any{"nodeIds": []string{first.ID, first.ID}}, nil); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected self link to be rejected, got %d", recorder.Code)
	}
	if recorder := fixture.call(t, "link.create", map[string]any{"nodeIds": []string{first.ID}}, nil); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected single id to be rejected, got %d", recorder.Code)
	}

	var forNode []graph.Link
	fixture.call(t, "link.forNode", map[string]any{"nodeId": first.ID}, &forNode)
	if len(forNode) != 1 {
		t.Fatalf("expected one link for node, got %d", len(forNode))
	}

	var roles []graph.Role
	fixture.call(t, "link.roles", nil, &roles)
	if len(roles) != 1 || roles[0].Name != "Co-Founder" {
		t.Fatalf("unexpected roles: %+v", roles)
	}

	if recorder := fixture.call(t, "link.delete", map[string]any{"id": link.ID}, nil); recorder.Code != http.StatusOK {
		t.Fatalf("link delete failed: %d", recorder.Code)
	}
	var remaining []graph.Link
	fixture.call(t, "link.list", nil, &remaining)
	if len(remaining) != 0 {
		t.Fatalf("expected no links, got %d", len(remaining))
	}
}

func uploadRequest(t *testing.T, eventID string, contentType string, payload []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField(uploadEventField, eventID); err != nil {
		t.Fatalf("write field: %v", err)
	}
	partHeader := textproto.MIMEHeader{}
	partHeader.Set("Content-Disposition", `form-data; name="file"; filename="avatar.png"`)
	partHeader.Set("Content-Type", contentType)
	part, err := writer.CreatePart(partHeader)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	request := httptest.NewRequest(http.MethodPost, "/rpc/event.uploadMedia", &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	return request
}

func TestEventMediaUploadAndServe(t *testing.T) {
	fixture := newRPCFixture(t)
	ctx := context.Background()
	node, err := fixture.service.CreateNode(ctx, graph.NodeInput{Label: "Jane"})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}
	var event graph.Event
	fixture.call(t, "event.create", map[string]any{"nodeId": node.ID, "description": "met at the conference", "tags": []string{"Conference"}}, &event)
	if event.ID == "" || len(event.Tags) != 1 {
		t.Fatalf("unexpected event: %+v", event)
	}

	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, uploadRequest(t, event.ID, "image/png", []byte("not-really-a-png")))
	if recorder.Code != http.StatusOK {
		t.Fatalf("upload failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var media graph.Media
	if err := json.Unmarshal(recorder.Body.Bytes(), &media); err != nil {
		t.Fatalf("decode media: %v", err)
	}

	recorder = httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/media/"+media.ID, http.NoBody))
	if recorder.Code != http.StatusOK {
		t.Fatalf("media get failed: %d", recorder.Code)
	}
	if recorder.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected content type %q", recorder.Header().Get("Content-Type"))
	}
	if recorder.Header().Get("Content-Length") != "16" {
		t.Fatalf("unexpected content length %q", recorder.Header().Get("Content-Length"))
	}
	if recorder.Header().Get("Cache-Control") != mediaCacheControl {
		t.Fatalf("unexpected cache control %q", recorder.Header().Get("Cache-Control"))
	}
	if recorder.Body.String() != "not-really-a-png" {
		t.Fatalf("unexpected body %q", recorder.Body.String())
	}

	var attached []graph.AttachedMedia
	fixture.call(t, "event.mediaForEvent", map[string]any{"eventId": event.ID}, &attached)
	if len(attached) != 1 || !attached[0].Visible {
		t.Fatalf("unexpected attached media: %+v", attached)
	}

	if recorder := fixture.call(t, "event.deleteMedia", map[string]any{"eventId": event.ID, "mediaId": media.ID}, nil); recorder.Code != http.StatusOK {
		t.Fatalf("delete media failed: %d", recorder.Code)
	}
	recorder = httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/media/"+media.ID, http.NoBody))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected orphaned media to be collected, got %d", recorder.Code)
	}
}

func TestEventMediaUploadRejectsOversizedPayload(t *testing.T) {
	fixture := newRPCFixture(t)
	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, uploadRequest(t, "event-1", "image/png", make([]byte, 4096)))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestEventTagProcedures(t *testing.T) {
	fixture := newRPCFixture(t)
	node, err := fixture.service.CreateNode(context.Background(), graph.NodeInput{Label: "Jane"})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}
	var event graph.Event
	fixture.call(t, "event.create", map[string]any{"nodeId": node.ID, "description": "coffee"}, &event)

	var tagged graph.Event
	fixture.call(t, "event.addTags", map[string]any{"eventId": event.ID, "tags": []string{"Coffee Chat", "coffee-chat", "Follow up"}}, &tagged)
	if len(tagged.Tags) != 2 {
		t.Fatalf("expected two distinct tags, got %+v", tagged.Tags)
	}

	var tags []graph.Tag
	fixture.call(t, "event.tags", nil, &tags)
	if len(tags) != 2 {
		t.Fatalf("expected two tags, got %d", len(tags))
	}

	var events []graph.Event
	fixture.call(t, "event.list", map[string]any{"nodeId": node.ID}, &events)
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}

	if recorder := fixture.call(t, "event.create", map[string]any{"nodeId": node.ID}, nil); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected user event without description to be rejected, got %d", recorder.Code)
	}
	if recorder := fixture.call(t, "event.delete", map[string]any{"id": event.ID}, nil); recorder.Code != http.StatusOK {
		t.Fatalf("delete event failed: %d", recorder.Code)
	}
}

func TestHealthz(t *testing.T) {
	fixture := newRPCFixture(t)
	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected healthy, got %d", recorder.Code)
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); err == nil {
		t.Fatalf("expected missing graph error")
	}
	if _, err := NewHTTPHandler(Dependencies{Graph: &graph.Service{}}); err == nil {
		t.Fatalf("expected missing ingester error")
	}
}
