package graph

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type fixedPalette struct {
	pair ColorPair
}

func (p fixedPalette) Pick() ColorPair {
	return p.pair
}

// tickingClock advances one second per reading so created_at ordering is deterministic.
type tickingClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}

var testColors = ColorPair{Light: "#84bf5c", Dark: "#286b33"}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "graph.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := &tickingClock{current: time.Unix(1700000000, 0).UTC()}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: NewUUIDProvider(),
		Palette:    fixedPalette{pair: testColors},
	})
	if err != nil {
		t.Fatalf("failed to construct graph service: %v", err)
	}
	return service, db
}

func mustCreateNode(t *testing.T, service *Service, label, nodeType string) Node {
	t.Helper()
	node, err := service.CreateNode(context.Background(), NodeInput{Label: label, Type: nodeType})
	if err != nil {
		t.Fatalf("failed to create node %q: %v", label, err)
	}
	return node
}

func mustCreateEvent(t *testing.T, service *Service, nodeID, description string) Event {
	t.Helper()
	event, err := service.CreateEvent(context.Background(), EventInput{NodeID: nodeID, Description: description})
	if err != nil {
		t.Fatalf("failed to create event: %v", err)
	}
	return event
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var count int64
	if err := db.Model(model).Count(&count).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	return count
}

func countTable(t *testing.T, db *gorm.DB, table string) int64 {
	t.Helper()
	var count int64
	if err := db.Table(table).Count(&count).Error; err != nil {
		t.Fatalf("failed to count %s: %v", table, err)
	}
	return count
}
