package repository

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/simguard/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "simguard-test.db"),
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepositoryPolicies(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("LatestPolicyEmpty", func(t *testing.T) {
		_, err := repo.LatestPolicy(ctx)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("SaveAndGetPolicy", func(t *testing.T) {
		p := domain.DefaultPolicy()
		if err := repo.SavePolicy(ctx, &p); err != nil {
			t.Fatalf("SavePolicy failed: %v", err)
		}

		got, err := repo.GetPolicy(ctx, "v1")
		if err != nil {
			t.Fatalf("GetPolicy failed: %v", err)
		}
		if got.Thresholds.SimChangeHours != 72 {
			t.Errorf("expected SimChangeHours 72, got %v", got.Thresholds.SimChangeHours)
		}
		if got.Weight(domain.RuleDeviceChangeAfterSim) != 25 {
			t.Errorf("expected weight 25, got %d", got.Weight(domain.RuleDeviceChangeAfterSim))
		}
		if got.Tiers != p.Tiers {
			t.Errorf("expected tiers %+v, got %+v", p.Tiers, got.Tiers)
		}
	})

	t.Run("LatestPolicyFollowsInsertOrder", func(t *testing.T) {
		p := domain.DefaultPolicy()
		p.Version = "v2"
		p.Thresholds.FailedLogins = 5
		if err := repo.SavePolicy(ctx, &p); err != nil {
			t.Fatalf("SavePolicy failed: %v", err)
		}

		latest, err := repo.LatestPolicy(ctx)
		if err != nil {
			t.Fatalf("LatestPolicy failed: %v", err)
		}
		if latest.Version != "v2" {
			t.Errorf("expected latest v2, got %s", latest.Version)
		}
		if latest.Thresholds.FailedLogins != 5 {
			t.Errorf("expected FailedLogins 5, got %d", latest.Thresholds.FailedLogins)
		}
	})

	t.Run("ResaveKeepsOrder", func(t *testing.T) {
		p := domain.DefaultPolicy()
		p.Tiers.MediumMax = 70
		if err := repo.SavePolicy(ctx, &p); err != nil {
			t.Fatalf("SavePolicy failed: %v", err)
		}

		got, err := repo.GetPolicy(ctx, "v1")
		if err != nil {
			t.Fatalf("GetPolicy failed: %v", err)
		}
		if got.Tiers.MediumMax != 70 {
			t.Errorf("expected updated MediumMax 70, got %d", got.Tiers.MediumMax)
		}

		latest, _ := repo.LatestPolicy(ctx)
		if latest.Version != "v2" {
			t.Errorf("re-saving v1 should not make it latest, got %s", latest.Version)
		}
	})

	t.Run("ListPolicyVersions", func(t *testing.T) {
		versions, err := repo.ListPolicyVersions(ctx)
		if err != nil {
			t.Fatalf("ListPolicyVersions failed: %v", err)
		}
		if len(versions) != 2 {
			t.Fatalf("expected 2 versions, got %d", len(versions))
		}
		if versions[0].Version != "v1" || versions[1].Version != "v2" {
			t.Errorf("unexpected order: %+v", versions)
		}
		if versions[0].CreatedAt.IsZero() {
			t.Error("expected CreatedAt to be set")
		}
	})

	t.Run("RejectsInvalidPolicy", func(t *testing.T) {
		p := domain.DefaultPolicy()
		p.Version = "bad"
		p.Tiers.MediumMax = p.Tiers.LowMax

		err := repo.SavePolicy(ctx, &p)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("PolicyNotFound", func(t *testing.T) {
		if _, err := repo.GetPolicy(ctx, "v99"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestSQLiteRepositoryRuleConfigs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rule := &domain.RuleConfig{
		ID:          "rule-001",
		Name:        "night_owl_roaming",
		Description: "roaming with heavy data use",
		Expression:  "is_roaming && curr_data_usage > 500.0",
		Weight:      10,
		Enabled:     true,
	}

	t.Run("SaveAndGet", func(t *testing.T) {
		if err := repo.SaveRuleConfig(ctx, rule); err != nil {
			t.Fatalf("SaveRuleConfig failed: %v", err)
		}

		got, err := repo.GetRuleConfig(ctx, "rule-001")
		if err != nil {
			t.Fatalf("GetRuleConfig failed: %v", err)
		}
		if got.Name != rule.Name || got.Expression != rule.Expression {
			t.Errorf("unexpected rule: %+v", got)
		}
		if got.Weight != 10 || !got.Enabled {
			t.Errorf("expected weight 10 enabled, got %d %v", got.Weight, got.Enabled)
		}
		if got.CreatedAt.IsZero() {
			t.Error("expected CreatedAt to be set")
		}
	})

	t.Run("Update", func(t *testing.T) {
		updated := *rule
		updated.Enabled = false
		updated.Weight = 3
		if err := repo.SaveRuleConfig(ctx, &updated); err != nil {
			t.Fatalf("SaveRuleConfig failed: %v", err)
		}

		got, err := repo.GetRuleConfig(ctx, "rule-001")
		if err != nil {
			t.Fatalf("GetRuleConfig failed: %v", err)
		}
		if got.Enabled || got.Weight != 3 {
			t.Errorf("expected disabled weight 3, got %+v", got)
		}
	})

	t.Run("List", func(t *testing.T) {
		other := &domain.RuleConfig{
			ID:         "rule-002",
			Name:       "many_towers",
			Expression: "cell_tower_changes > 10",
			Weight:     5,
			Enabled:    true,
		}
		if err := repo.SaveRuleConfig(ctx, other); err != nil {
			t.Fatalf("SaveRuleConfig failed: %v", err)
		}

		list, err := repo.ListRuleConfigs(ctx)
		if err != nil {
			t.Fatalf("ListRuleConfigs failed: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 rules, got %d", len(list))
		}
		if list[0].Name != "many_towers" {
			t.Errorf("expected rules ordered by name, got %s first", list[0].Name)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.DeleteRuleConfig(ctx, "rule-002"); err != nil {
			t.Fatalf("DeleteRuleConfig failed: %v", err)
		}
		if _, err := repo.GetRuleConfig(ctx, "rule-002"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got: %v", err)
		}
		if err := repo.DeleteRuleConfig(ctx, "rule-002"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got: %v", err)
		}
	})

	t.Run("RequiresID", func(t *testing.T) {
		err := repo.SaveRuleConfig(ctx, &domain.RuleConfig{Name: "x", Expression: "true"})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
		if _, err := repo.GetRuleConfig(ctx, ""); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})
}

func TestInMemorySQLite(t *testing.T) {
	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	p := domain.DefaultPolicy()
	if err := repo.SavePolicy(ctx, &p); err != nil {
		t.Fatalf("SavePolicy failed: %v", err)
	}
	if _, err := repo.LatestPolicy(ctx); err != nil {
		t.Errorf("LatestPolicy failed: %v", err)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "mysql"})
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}

	sqlite := &SQLRepository{driver: "sqlite"}
	if got := sqlite.rebind("SELECT ?"); got != "SELECT ?" {
		t.Errorf("sqlite rebind should be a no-op, got %q", got)
	}
}

func TestSchemas(t *testing.T) {
	for _, s := range AllSchemas("postgres") {
		if strings.Contains(s, "AUTOINCREMENT") || strings.Contains(s, "{{SERIAL}}") {
			t.Errorf("postgres schema not rewritten: %s", s)
		}
	}
	if !strings.Contains(AllSchemas("sqlite")[0], "AUTOINCREMENT") {
		t.Error("sqlite schema should use AUTOINCREMENT")
	}
}

func TestPostgresDSN(t *testing.T) {
	dsn := postgresDSN(domain.RepositoryConfig{PostgresUser: "sg", PostgresPassword: "pw"})
	for _, want := range []string{"host=localhost", "port=5432", "dbname=simguard", "sslmode=disable", "user=sg"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("dsn %q missing %q", dsn, want)
		}
	}
}
