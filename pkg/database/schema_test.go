package database

import (
	"context"
	"strings"
	"testing"
)

func TestSchemaValidator_MigratedDatabase(t *testing.T) {
	db := openTestDB(t)
	if _, err := NewMigrationManager(db, Migrations()).ApplyMigrations(context.Background()); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}

	if err := NewSchemaValidator(db).Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestSchemaValidator_MissingTables(t *testing.T) {
	db := openTestDB(t)

	err := NewSchemaValidator(db).ValidateTablesExist()
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("expected missing table error, got %v", err)
	}
}

func TestSchemaValidator_WrongColumnType(t *testing.T) {
	db := openTestDB(t)
	if _, err := NewMigrationManager(db, Migrations()).ApplyMigrations(context.Background()); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}
	if _, err := db.Exec(`DROP TABLE messages`); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE messages (id TEXT, sender_id TEXT, receiver_id TEXT, content BLOB, session_id TEXT, created_at DATETIME, is_read BOOLEAN)`); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := NewSchemaValidator(db).ValidateTableStructure()
	if err == nil || !strings.Contains(err.Error(), "content") {
		t.Errorf("expected content column error, got %v", err)
	}
}

func TestSchema_Constraints(t *testing.T) {
	db := openTestDB(t)
	if _, err := NewMigrationManager(db, Migrations()).ApplyMigrations(context.Background()); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}

	if _, err := db.Exec(`INSERT INTO users (id, name, role) VALUES ('u1', 'Ada', 'wizard')`); err == nil {
		t.Error("role check constraint not enforced")
	}
	if _, err := db.Exec(`INSERT INTO users (id, name, role) VALUES ('u1', 'Ada', 'student')`); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	_, err := db.Exec(`INSERT INTO messages (id, sender_id, receiver_id, content, created_at) VALUES ('m1', 'u1', 'ghost', 'hi', CURRENT_TIMESTAMP)`)
	if err == nil {
		t.Error("foreign key on receiver_id not enforced")
	}
}
