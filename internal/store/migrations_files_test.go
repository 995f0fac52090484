package store

import (
	"io/fs"
	"regexp"
	"testing"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)

	versionsByDialect := map[Dialect][]string{}
	for _, dialect := range []Dialect{Postgres, SQLite} {
		migrations, err := MigrationFS(dialect)
		if err != nil {
			t.Fatalf("open %s migrations: %v", dialect, err)
		}
		entries, err := fs.ReadDir(migrations, ".")
		if err != nil {
			t.Fatalf("read %s migrations dir: %v", dialect, err)
		}

		byVersion := map[string]map[string]bool{}
		for _, entry := range entries {
			match := pattern.FindStringSubmatch(entry.Name())
			if match == nil {
				continue
			}
			version, direction := match[1], match[2]
			if byVersion[version] == nil {
				byVersion[version] = map[string]bool{}
			}
			if byVersion[version][direction] {
				t.Fatalf("duplicate %s %s migration for version %s", dialect, direction, version)
			}
			byVersion[version][direction] = true
		}

		if len(byVersion) == 0 {
			t.Fatalf("no %s migrations discovered", dialect)
		}
		for version, dirs := range byVersion {
			if !dirs["up"] || !dirs["down"] {
				t.Fatalf("%s version %s must include both up and down files", dialect, version)
			}
			versionsByDialect[dialect] = append(versionsByDialect[dialect], version)
		}
	}

	if len(versionsByDialect[Postgres]) != len(versionsByDialect[SQLite]) {
		t.Fatalf("postgres and sqlite migrations diverge: %v vs %v", versionsByDialect[Postgres], versionsByDialect[SQLite])
	}
}

func TestRebind(t *testing.T) {
	query := `SELECT * FROM t WHERE a = $1 AND b = $2 OR a = $1 LIMIT $10`
	if got := Postgres.rebind(query); got != query {
		t.Fatalf("postgres query should be unchanged, got %q", got)
	}
	want := `SELECT * FROM t WHERE a = ?1 AND b = ?2 OR a = ?1 LIMIT ?10`
	if got := SQLite.rebind(query); got != want {
		t.Fatalf("rebind = %q, want %q", got, want)
	}
}
