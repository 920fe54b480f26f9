package export_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lumoslab/lumos/backend/internal/export"
	"github.com/lumoslab/lumos/backend/internal/model/study"
)

var exportTime = time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)

func TestResponseLogExport(t *testing.T) {
	dir := t.TempDir()
	e := export.New(dir)

	session := study.Session{
		ParticipantID: "p1",
		Condition:     "CONTROL",
		ResponseLog: []study.Response{
			{
				ConnectionID:  "c1",
				ParticipantID: "p1",
				Dataset:       "cars.csv",
				Condition:     "CONTROL",
				Phase:         study.PhasePractice,
				ProcessedAt:   exportTime,
				Kind:          "click_group",
				InputData:     study.InteractionEvent{ParticipantID: "p1", Kind: "click_group"},
			},
		},
	}

	path, err := e.ResponseLog(session, exportTime)
	if err != nil {
		t.Fatalf("ResponseLog err: %v", err)
	}

	wantDir := filepath.Join(dir, "CONTROL", "p1")
	if filepath.Dir(path) != wantDir {
		t.Fatalf("expected file under %s, got %s", wantDir, path)
	}
	name := filepath.Base(path)
	if !strings.HasPrefix(name, "logs_p1_") || !strings.HasSuffix(name, ".tsv") {
		t.Fatalf("unexpected file name %s", name)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "connection_id\tparticipant_id") {
		t.Fatalf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[1], "click_group") || !strings.Contains(lines[1], "cars.csv") {
		t.Fatalf("unexpected row: %s", lines[1])
	}
}

func TestPageLogsExport(t *testing.T) {
	dir := t.TempDir()
	e := export.New(dir)

	rows := []map[string]any{
		{"page": "intro", "duration_ms": float64(1200)},
		{"page": "task", "duration_ms": float64(88000), "scrolls": float64(4)},
	}

	path, err := e.PageLogs("AWARENESS", "p2", rows, exportTime)
	if err != nil {
		t.Fatalf("PageLogs err: %v", err)
	}

	if !strings.HasPrefix(filepath.Base(path), "session_end_page_logs_p2_") {
		t.Fatalf("unexpected file name %s", filepath.Base(path))
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	// Columns are the sorted union of row keys.
	if lines[0] != "duration_ms\tpage\tscrolls" {
		t.Fatalf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[1], "intro") {
		t.Fatalf("unexpected first row: %s", lines[1])
	}
}
