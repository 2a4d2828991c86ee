package plan

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")

	p := &Plan{
		Name:     "roundtrip",
		Settings: Settings{ValidationStrategy: "command", MaxIterations: 50},
		Tasks: []*Task{
			{
				ID: "a", Title: "Task A", Description: "build the thing",
				Status: TaskPending, MaxRetries: 3,
				AcceptanceCriteria: []string{"compiles", "tests pass"},
				Metadata:           TaskMetadata{Skills: []string{"go.md"}, NeedsExternalDocs: true},
			},
			{ID: "b", Title: "Task B", Status: TaskPending, MaxRetries: 2, DependsOn: []string{"a"}},
		},
	}

	if err := Save(p, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if diff := cmp.Diff(p, loaded, cmpopts.EquateApproxTime(time.Second)); diff != "" {
		t.Fatalf("plan round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_LoadNormalizesEmptyStatus(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")

	raw := []byte("name: bare\ntasks:\n  - id: a\n    title: Task A\n    max_retries: 3\n")
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if p.Tasks[0].Status != TaskPending {
		t.Fatalf("status = %q, want pending", p.Tasks[0].Status)
	}
}

func TestStore_LoadRejectsInvalidPlan(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")

	raw := []byte("name: bad\ntasks:\n  - id: a\n  - id: a\n")
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("Load() accepted a plan with duplicate ids")
	}
}

func TestStore_BackupWritesCopy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")

	p := &Plan{Name: "bk", Tasks: []*Task{{ID: "a", Status: TaskPending}}}
	if err := Save(p, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	backupPath, err := Backup(path)
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	orig, _ := os.ReadFile(path)
	bak, _ := os.ReadFile(backupPath)
	if string(orig) != string(bak) {
		t.Fatalf("backup content differs from original")
	}
}
