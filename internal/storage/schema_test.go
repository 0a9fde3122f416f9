package storage

import (
	"strings"
	"testing"
)

func TestStatements(t *testing.T) {
	stmts := Statements()
	if len(stmts) != 3 {
		t.Fatalf("statements = %d, want 3", len(stmts))
	}
	for i, table := range []string{"events", "identities", "sessions"} {
		if !strings.HasPrefix(stmts[i], "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Errorf("statement %d = %.60q", i, stmts[i])
		}
		if strings.HasSuffix(stmts[i], ";") {
			t.Errorf("statement %d keeps its terminator", i)
		}
	}
}

func TestSessionColumnsMatchUpsert(t *testing.T) {
	stmts := Statements()
	cols := strings.Count(stmts[2], "\n    ")
	if cols != 20 {
		t.Errorf("sessions table has %d columns, upsert binds 20", cols)
	}
}
