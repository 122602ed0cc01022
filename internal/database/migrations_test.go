package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/orbit/backend/internal/graph"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openTestDatabase(testContext *testing.T) *gorm.DB {
	testContext.Helper()
	database, err := gorm.Open(sqlite.Open(filepath.Join(testContext.TempDir(), "migration.db")), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	models := append(graph.Models(), &migrationRecord{})
	if err := database.AutoMigrate(models...); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	return database
}

func TestApplyMigrationsCanonicalizesLinks(testContext *testing.T) {
	database := openTestDatabase(testContext)
	now := time.Now().UTC()

	links := []graph.Link{
		{ID: "link-reversed", NodeAID: "node-b", NodeBID: "node-a", CreatedAt: now},
		{ID: "link-canonical", NodeAID: "node-c", NodeBID: "node-d", CreatedAt: now},
		{ID: "link-twin", NodeAID: "node-c", NodeBID: "node-e", CreatedAt: now},
		{ID: "link-twin-reversed", NodeAID: "node-e", NodeBID: "node-c", CreatedAt: now},
	}
	for index := range links {
		if err := database.Omit("Roles").Create(&links[index]).Error; err != nil {
			testContext.Fatalf("failed to insert link: %v", err)
		}
	}
	if err := database.Create(&graph.Role{ID: "role-1", Slug: "friend", Name: "Friend"}).Error; err != nil {
		testContext.Fatalf("failed to insert role: %v", err)
	}
	if err := database.Exec("INSERT INTO link_roles (link_id, role_id) VALUES (?, ?)", "link-twin-reversed", "role-1").Error; err != nil {
		testContext.Fatalf("failed to insert link role: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored []graph.Link
	if err := database.Order("id").Find(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload links: %v", err)
	}
	if len(stored) != 3 {
		testContext.Fatalf("expected reversed twin to be dropped, got %d links", len(stored))
	}
	for _, link := range stored {
		if link.NodeAID >= link.NodeBID {
			testContext.Fatalf("link %s is not canonical: %s, %s", link.ID, link.NodeAID, link.NodeBID)
		}
	}

	var orphanRoles int64
	if err := database.Table("link_roles").Where("link_id = ?", "link-twin-reversed").Count(&orphanRoles).Error; err != nil {
		testContext.Fatalf("failed to count link roles: %v", err)
	}
	if orphanRoles != 0 {
		testContext.Fatalf("expected link roles of the dropped twin to be removed")
	}
}

func TestApplyMigrationsBackfillsEventTypesOnce(testContext *testing.T) {
	database := openTestDatabase(testContext)
	now := time.Now().UTC()
	if err := database.Exec(
		"INSERT INTO events (id, node_id, type, added_by, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		"event-1", "node-1", "", "user", now, now,
	).Error; err != nil {
		testContext.Fatalf("failed to insert event: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored graph.Event
	if err := database.Where("id = ?", "event-1").Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload event: %v", err)
	}
	if stored.Type != graph.EventTypeNote {
		testContext.Fatalf("expected backfilled type, got %q", stored.Type)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillEventTypes).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := database.Model(&graph.Event{}).Where("id = ?", "event-1").Update("type", "").Error; err != nil {
		testContext.Fatalf("failed to reset event type: %v", err)
	}
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to reapply migrations: %v", err)
	}
	if err := database.Where("id = ?", "event-1").Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload event: %v", err)
	}
	if stored.Type != "" {
		testContext.Fatalf("expected recorded migration to be skipped")
	}
}

func TestOpenSQLiteMigratesSchema(testContext *testing.T) {
	path := filepath.Join(testContext.TempDir(), "orbit.db")
	database, err := Open(Options{Driver: DriverSQLite, Path: path}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("open failed: %v", err)
	}
	for _, table := range []string{"nodes", "links", "link_roles", "events", "event_tags", "event_media", "media", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s", table)
		}
	}
	var applied int64
	if err := database.Model(&migrationRecord{}).Count(&applied).Error; err != nil {
		testContext.Fatalf("count migrations: %v", err)
	}
	if applied != int64(len(registeredMigrations())) {
		testContext.Fatalf("expected %d applied migrations, got %d", len(registeredMigrations()), applied)
	}
}

func TestOpenRejectsBadOptions(testContext *testing.T) {
	testCases := []Options{
		{Driver: DriverSQLite},
		{Driver: DriverPostgres},
		{Driver: "oracle", Path: "x"},
	}
	for _, options := range testCases {
		if _, err := Open(options, nil); err == nil {
			testContext.Fatalf("expected error for %+v", options)
		}
	}
}

func TestApplyMigrationsBackfillsLabelKeys(testContext *testing.T) {
	database := openTestDatabase(testContext)
	now := time.Now().UTC()
	if err := database.Exec(
		"INSERT INTO nodes (id, label, color_hex_light, color_hex_dark, added_by, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		"node-1", "  Émile Zola ", "#84bf5c", "#286b33", "user", now, now,
	).Error; err != nil {
		testContext.Fatalf("failed to insert node: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored graph.Node
	if err := database.Where("id = ?", "node-1").Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload node: %v", err)
	}
	if stored.LabelKey != "émile zola" {
		testContext.Fatalf("expected folded label key, got %q", stored.LabelKey)
	}
}
