package app

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/majorhost/taskexec/internal/taskexec/config"
	"github.com/majorhost/taskexec/internal/taskexec/task"
)

const scheduleYAML = `
hostname: web12
enabledResources: [website, database]
schedule:
  database.backup:
    daily: true
    at: "03:30"
  web-proxy.quota-report:
    interval: 1h
    mode: parallel
services:
  - name: nginx
    kind: web-proxy
    image: registry.example.com/nginx:stable
  - name: mysql-main
    kind: database
    image: registry.example.com/mysql:8
  - name: mysql-replica
    kind: database
    image: registry.example.com/mysql:8
queue:
  addr: localhost:6379
`

func testSource(t *testing.T, yaml string) *config.CachedSource {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return config.NewCachedSource(config.FileSource{Path: path}, time.Minute, log)
}

func TestScheduleTemplatesFilterTargetsByKind(t *testing.T) {
	source := testSource(t, scheduleYAML)

	templates, err := scheduleTemplates(map[string]config.ScheduleEntry{
		"database.backup":        {Daily: true, At: "03:30"},
		"web-proxy.quota-report": {Interval: time.Hour, Mode: "parallel"},
	}, source)
	if err != nil {
		t.Fatalf("scheduleTemplates: %v", err)
	}

	byType := map[string][]string{}
	for _, tpl := range templates {
		byType[tpl.ResourceType] = tpl.Targets()
	}

	dbs := byType["database"]
	sort.Strings(dbs)
	if len(dbs) != 2 || dbs[0] != "mysql-main" || dbs[1] != "mysql-replica" {
		t.Errorf("database targets = %v, want the two database services", dbs)
	}
	if web := byType["web-proxy"]; len(web) != 1 || web[0] != "nginx" {
		t.Errorf("web-proxy targets = %v, want [nginx]", web)
	}
}

func TestScheduleTemplatesOperationAndTrigger(t *testing.T) {
	source := testSource(t, scheduleYAML)

	templates, err := scheduleTemplates(map[string]config.ScheduleEntry{
		"database.backup": {Daily: true, At: "03:30"},
	}, source)
	if err != nil {
		t.Fatalf("scheduleTemplates: %v", err)
	}
	if len(templates) != 1 {
		t.Fatalf("got %d templates, want 1", len(templates))
	}
	tpl := templates[0]
	if tpl.Operation != task.OpBackup || !tpl.Daily || tpl.At != "03:30" {
		t.Errorf("unexpected template: %+v", tpl)
	}
}

func TestScheduleTemplatesRejectsMalformedKey(t *testing.T) {
	source := testSource(t, scheduleYAML)

	_, err := scheduleTemplates(map[string]config.ScheduleEntry{
		"backup": {Interval: time.Hour},
	}, source)
	if err == nil {
		t.Fatal("expected error for key without an operation segment")
	}
}
