package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/orbit/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/extraction"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/graph"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/ingest"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/realtime"
	githubsqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixedExtractor struct {
	names []string
}

func (e fixedExtractor) Extract(context.Context, extraction.Request) (extraction.Extraction, error) {
	return extraction.Extraction{Names: e.names}, nil
}

func TestRealtimeStreamEmitsGraphChangeAfterIngest(t *testing.T) {
	db, err := gorm.Open(githubsqlite.Open(filepath.Join(t.TempDir(), "realtime.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.AutoMigrate(graph.Models()...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	graphService, err := graph.NewService(graph.ServiceConfig{Database: db, IDProvider: graph.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to build graph service: %v", err)
	}

	dispatcher := realtime.NewDispatcher()
	pipeline, err := ingest.NewPipeline(ingest.Config{
		Graph:     graphService,
		Extractor: fixedExtractor{names: []string{"Jane Doe", "Acme Corp"}},
		Publisher: dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to build pipeline: %v", err)
	}

	secret := []byte("test-signing-secret")
	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: secret, TokenTTL: time.Minute})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{SigningSecret: secret})
	if err != nil {
		t.Fatalf("failed to build validator: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Graph:             graphService,
		Ingester:          pipeline,
		Sessions:          validator,
		Realtime:          dispatcher,
		Logger:            zap.NewExample(),
		HeartbeatInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	token, _, err := tokenIssuer.IssueToken(context.Background(), "operator")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	anonymous, err := http.Post(server.URL+"/rpc/node.list", "application/json", http.NoBody)
	if err != nil {
		t.Fatalf("anonymous request failed: %v", err)
	}
	_ = anonymous.Body.Close()
	if anonymous.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected anonymous request to be rejected, got %d", anonymous.StatusCode)
	}

	streamRequest, err := http.NewRequest(http.MethodGet, server.URL+"/realtime/stream?access_token="+token, http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}
	if !strings.HasPrefix(streamResp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("unexpected stream content type: %q", streamResp.Header.Get("Content-Type"))
	}

	waitForSubscriber(t, dispatcher)
	streamReader := bufio.NewReader(streamResp.Body)

	ingestReq, err := http.NewRequest(http.MethodPost, server.URL+"/rpc/ingest.process", bytes.NewBufferString(`{"text":"Jane Doe joined Acme Corp"}`))
	if err != nil {
		t.Fatalf("failed to construct ingest request: %v", err)
	}
	ingestReq.Header.Set("Authorization", "Bearer "+token)
	ingestReq.Header.Set("Content-Type", "application/json")
	ingestResp, err := http.DefaultClient.Do(ingestReq)
	if err != nil {
		t.Fatalf("ingest request failed: %v", err)
	}
	if ingestResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected ingest status: %d", ingestResp.StatusCode)
	}
	var result struct {
		NodeIDs []string `json:"nodeIds"`
	}
	if err := json.NewDecoder(ingestResp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode ingest response: %v", err)
	}
	_ = ingestResp.Body.Close()
	if len(result.NodeIDs) != 2 {
		t.Fatalf("unexpected ingest result: %#v", result)
	}

	type eventPayload struct {
		NodeIDs []string `json:"nodeIds"`
	}

	currentEventType := ""
	deadline := time.After(5 * time.Second)
	type readResult struct {
		line string
		err  error
	}
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := streamReader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-deadline:
			t.Fatal("timed out waiting for realtime event")
		case res := <-resultCh:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			if currentEventType != realtime.EventGraphChanged {
				continue
			}
			dataJSON := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var payload eventPayload
			if err := json.Unmarshal([]byte(dataJSON), &payload); err != nil {
				t.Fatalf("failed to decode event payload: %v", err)
			}
			if len(payload.NodeIDs) != 2 || payload.NodeIDs[0] != result.NodeIDs[0] {
				t.Fatalf("unexpected node identifiers: %#v", payload.NodeIDs)
			}
			return
		}
	}
}

func waitForSubscriber(t *testing.T, dispatcher *realtime.Dispatcher) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for dispatcher.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
