package store

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	entries, err := os.ReadDir(testMigrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, direction := match[1], match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}
	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestParticipantsMigrationConstrainsDecisions(t *testing.T) {
	sqlText := readMigration(t, "0002_approvals.up.sql")
	for _, snippet := range []string{
		"CHECK (stage > 0)",
		"CHECK (role IN ('approver', 'observer'))",
		"CHECK (decision IN ('', 'approve', 'reject'))",
		"PRIMARY KEY (approval_id, stage, user_id)",
	} {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected approvals migration to contain %q", snippet)
		}
	}
}

func TestCommentsMigrationIsAppendOnly(t *testing.T) {
	sqlText := readMigration(t, "0004_approval_comments_append_only.up.sql")
	for _, snippet := range []string{
		"approval_comments_append_only_guard",
		"RAISE EXCEPTION",
		"CREATE TRIGGER trg_approval_comments_block_update",
	} {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
	if strings.Contains(sqlText, "DO INSTEAD NOTHING") {
		t.Fatal("expected a hard-fail guard, found a silent DO INSTEAD NOTHING rule")
	}
}

func readMigration(t *testing.T, name string) string {
	t.Helper()
	sqlBytes, err := os.ReadFile(filepath.Join(testMigrationsDir, name))
	if err != nil {
		t.Fatalf("read migration %s: %v", name, err)
	}
	return string(sqlBytes)
}
