package repository

import "strings"

// Schema definitions for the SIMGuard database.
// Compatible with both SQLite and PostgreSQL; {{SERIAL}} is replaced with the
// driver's auto-increment primary key.

const schemaPolicies = `
CREATE TABLE IF NOT EXISTS policies (
    seq {{SERIAL}},
    version TEXT NOT NULL UNIQUE,
    body TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    weight INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(enabled);
CREATE INDEX IF NOT EXISTS idx_rule_configs_name ON rule_configs(name);
`

// AllSchemas returns all schema statements in order for the given driver.
func AllSchemas(driver string) []string {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == "postgres" {
		serial = "BIGSERIAL PRIMARY KEY"
	}

	schemas := []string{
		schemaPolicies,
		schemaRuleConfigs,
	}
	for i, s := range schemas {
		schemas[i] = strings.ReplaceAll(s, "{{SERIAL}}", serial)
	}
	return schemas
}
