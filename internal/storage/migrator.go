// Package storage provides database migration functionality for Watchpost.
//
// The migration system is designed to be:
//   - Version-controlled and reproducible
//   - Rollback capable (future enhancement)
//   - Atomic (each migration runs in a transaction)
//   - Idempotent (safe to run multiple times)
//
// Migration files are embedded in the binary for deployment simplicity.
// Each migration has an up and down SQL script for forward and backward compatibility.
package storage

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Migrator handles database schema migrations.
//
// It tracks applied migrations in a dedicated table and ensures
// migrations are applied in the correct order exactly once.
type Migrator struct {
	// db is the database connection used for migrations
	db *sql.DB

	// migrations holds all registered migrations sorted by version
	migrations []Migration
}

// Migration represents a single database migration.
//
// Each migration has a version number, name, and SQL scripts
// for both forward (up) and backward (down) operations.
type Migration struct {
	// Version is the migration version number (e.g., 1, 2, 3...)
	Version int

	// Name is a human-readable description of the migration
	Name string

	// UpSQL contains the SQL commands to apply the migration
	UpSQL string

	// DownSQL contains the SQL commands to roll back the migration
	// (reserved for future rollback functionality)
	DownSQL string
}

// MigrationRecord represents a migration record in the database.
type MigrationRecord struct {
	Version   int       `db:"version"`
	Name      string    `db:"name"`
	AppliedAt time.Time `db:"applied_at"`
}

// NewMigrator creates a new migration manager.
//
// It automatically creates the migrations tracking table if it doesn't exist
// and registers all built-in migrations for Watchpost.
func NewMigrator(db *sql.DB) (*Migrator, error) {
	migrator := &Migrator{
		db: db,
	}

	// Create migrations tracking table
	if err := migrator.createMigrationsTable(); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Register built-in migrations
	migrator.registerBuiltinMigrations()

	return migrator, nil
}

// createMigrationsTable creates the table used to track applied migrations.
func (m *Migrator) createMigrationsTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`

	_, err := m.db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	log.Debug().Msg("Schema migrations table ready")
	return nil
}

// registerBuiltinMigrations registers all the built-in migrations for Watchpost.
//
// These migrations create the core tables:
//   - users, api_keys: accounts and worker credentials
//   - crawler_groups, crawlers: fleet registry
//   - crawler_runs, log_entries, crawler_heartbeats: telemetry
//   - crawler_commands: operator command queue
//   - config_templates, config_assignments: remote configuration
//   - alert_rules, alert_states, alert_events: alerting
//   - quick_links: public read projections
func (m *Migrator) registerBuiltinMigrations() {
	// Migration 1: Create users table
	m.AddMigration(Migration{
		Version: 1,
		Name:    "create_users_table",
		UpSQL: `
			CREATE TABLE users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				username TEXT NOT NULL UNIQUE,
				password_hash TEXT,
				active BOOLEAN NOT NULL DEFAULT 1,
				log_quota_bytes INTEGER,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);

			CREATE INDEX idx_users_username ON users(username);
		`,
		DownSQL: `DROP TABLE IF EXISTS users;`,
	})

	// Migration 2: Create api_keys table
	m.AddMigration(Migration{
		Version: 2,
		Name:    "create_api_keys_table",
		UpSQL: `
			CREATE TABLE api_keys (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id INTEGER NOT NULL,
				group_id INTEGER,
				name TEXT NOT NULL,
				key TEXT NOT NULL UNIQUE,
				active BOOLEAN NOT NULL DEFAULT 1,
				allowed_ips TEXT,
				last_used_at DATETIME,
				last_used_ip TEXT,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			);

			CREATE INDEX idx_api_keys_user_id ON api_keys(user_id);
			CREATE INDEX idx_api_keys_key ON api_keys(key);
		`,
		DownSQL: `DROP TABLE IF EXISTS api_keys;`,
	})

	// Migration 3: Create crawler_groups table
	m.AddMigration(Migration{
		Version: 3,
		Name:    "create_crawler_groups_table",
		UpSQL: `
			CREATE TABLE crawler_groups (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id INTEGER NOT NULL,
				name TEXT NOT NULL,
				slug TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				color TEXT NOT NULL DEFAULT '',
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
				UNIQUE (user_id, name),
				UNIQUE (user_id, slug)
			);

			CREATE INDEX idx_crawler_groups_user_id ON crawler_groups(user_id);
		`,
		DownSQL: `DROP TABLE IF EXISTS crawler_groups;`,
	})

	// Migration 4: Create crawlers table
	m.AddMigration(Migration{
		Version: 4,
		Name:    "create_crawlers_table",
		UpSQL: `
			CREATE TABLE crawlers (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id INTEGER NOT NULL,
				api_key_id INTEGER UNIQUE,
				group_id INTEGER,
				name TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'offline' CHECK (status IN ('online', 'warning', 'offline')),
				status_changed_at DATETIME,
				last_heartbeat DATETIME,
				last_source_ip TEXT,
				last_device_name TEXT,
				heartbeat_payload TEXT,
				log_max_lines INTEGER,
				log_max_bytes INTEGER,
				pinned_at DATETIME,
				is_public BOOLEAN NOT NULL DEFAULT 0,
				public_slug TEXT,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
				FOREIGN KEY (api_key_id) REFERENCES api_keys(id) ON DELETE SET NULL
			);

			CREATE INDEX idx_crawlers_user_id ON crawlers(user_id);
			CREATE INDEX idx_crawlers_group_id ON crawlers(group_id);
			CREATE INDEX idx_crawlers_last_heartbeat ON crawlers(last_heartbeat);
		`,
		DownSQL: `DROP TABLE IF EXISTS crawlers;`,
	})

	// Migration 5: Create crawler_runs table
	m.AddMigration(Migration{
		Version: 5,
		Name:    "create_crawler_runs_table",
		UpSQL: `
			CREATE TABLE crawler_runs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				crawler_id INTEGER NOT NULL,
				status TEXT NOT NULL DEFAULT 'running' CHECK (status IN ('running', 'success', 'failed')),
				started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				ended_at DATETIME,
				last_heartbeat DATETIME,
				source_ip TEXT,
				FOREIGN KEY (crawler_id) REFERENCES crawlers(id) ON DELETE CASCADE
			);

			CREATE INDEX idx_crawler_runs_crawler_id ON crawler_runs(crawler_id);
			CREATE INDEX idx_crawler_runs_status ON crawler_runs(status);
		`,
		DownSQL: `DROP TABLE IF EXISTS crawler_runs;`,
	})

	// Migration 6: Create log_entries table
	m.AddMigration(Migration{
		Version: 6,
		Name:    "create_log_entries_table",
		UpSQL: `
			CREATE TABLE log_entries (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				crawler_id INTEGER NOT NULL,
				api_key_id INTEGER,
				run_id INTEGER,
				level TEXT NOT NULL,
				level_code INTEGER NOT NULL,
				message TEXT NOT NULL,
				ts DATETIME DEFAULT CURRENT_TIMESTAMP,
				source_ip TEXT,
				device_name TEXT,
				FOREIGN KEY (crawler_id) REFERENCES crawlers(id) ON DELETE CASCADE
			);

			CREATE INDEX idx_log_entries_crawler_id ON log_entries(crawler_id);
			CREATE INDEX idx_log_entries_ts ON log_entries(ts);
			CREATE INDEX idx_log_entries_level_code ON log_entries(level_code);
		`,
		DownSQL: `DROP TABLE IF EXISTS log_entries;`,
	})

	// Migration 7: Create crawler_heartbeats table
	m.AddMigration(Migration{
		Version: 7,
		Name:    "create_crawler_heartbeats_table",
		UpSQL: `
			CREATE TABLE crawler_heartbeats (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				crawler_id INTEGER NOT NULL,
				api_key_id INTEGER,
				status TEXT NOT NULL,
				payload TEXT,
				source_ip TEXT,
				device_name TEXT,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				FOREIGN KEY (crawler_id) REFERENCES crawlers(id) ON DELETE CASCADE
			);

			CREATE INDEX idx_crawler_heartbeats_crawler_id ON crawler_heartbeats(crawler_id);
			CREATE INDEX idx_crawler_heartbeats_created_at ON crawler_heartbeats(created_at);
		`,
		DownSQL: `DROP TABLE IF EXISTS crawler_heartbeats;`,
	})

	// Migration 8: Create crawler_commands table
	m.AddMigration(Migration{
		Version: 8,
		Name:    "create_crawler_commands_table",
		UpSQL: `
			CREATE TABLE crawler_commands (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				crawler_id INTEGER NOT NULL,
				issued_by INTEGER,
				command TEXT NOT NULL,
				payload TEXT,
				status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'accepted', 'success', 'failed')),
				result TEXT,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				expires_at DATETIME,
				processed_at DATETIME,
				FOREIGN KEY (crawler_id) REFERENCES crawlers(id) ON DELETE CASCADE
			);

			CREATE INDEX idx_crawler_commands_crawler_id ON crawler_commands(crawler_id);
			CREATE INDEX idx_crawler_commands_status ON crawler_commands(status);
		`,
		DownSQL: `DROP TABLE IF EXISTS crawler_commands;`,
	})

	// Migration 9: Create config_templates table
	m.AddMigration(Migration{
		Version: 9,
		Name:    "create_config_templates_table",
		UpSQL: `
			CREATE TABLE config_templates (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id INTEGER NOT NULL,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				format TEXT NOT NULL DEFAULT 'json' CHECK (format IN ('json', 'yaml')),
				content TEXT NOT NULL DEFAULT '',
				is_active BOOLEAN NOT NULL DEFAULT 1,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
				UNIQUE (user_id, name)
			);

			CREATE INDEX idx_config_templates_user_id ON config_templates(user_id);
		`,
		DownSQL: `DROP TABLE IF EXISTS config_templates;`,
	})

	// Migration 10: Create config_assignments table
	m.AddMigration(Migration{
		Version: 10,
		Name:    "create_config_assignments_table",
		UpSQL: `
			CREATE TABLE config_assignments (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id INTEGER NOT NULL,
				template_id INTEGER,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				target_type TEXT NOT NULL CHECK (target_type IN ('crawler', 'api_key', 'group')),
				target_id INTEGER NOT NULL,
				format TEXT NOT NULL DEFAULT 'json' CHECK (format IN ('json', 'yaml')),
				content TEXT NOT NULL DEFAULT '',
				version INTEGER NOT NULL DEFAULT 1,
				is_active BOOLEAN NOT NULL DEFAULT 1,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
				FOREIGN KEY (template_id) REFERENCES config_templates(id) ON DELETE SET NULL,
				UNIQUE (user_id, target_type, target_id)
			);

			CREATE INDEX idx_config_assignments_user_id ON config_assignments(user_id);
			CREATE INDEX idx_config_assignments_target ON config_assignments(target_type, target_id);
		`,
		DownSQL: `DROP TABLE IF EXISTS config_assignments;`,
	})

	// Migration 11: Create alert_rules table
	m.AddMigration(Migration{
		Version: 11,
		Name:    "create_alert_rules_table",
		UpSQL: `
			CREATE TABLE alert_rules (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id INTEGER NOT NULL,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				trigger_type TEXT NOT NULL CHECK (trigger_type IN ('status_offline', 'payload_threshold')),
				target_type TEXT NOT NULL DEFAULT 'all' CHECK (target_type IN ('all', 'crawler', 'api_key', 'group')),
				target_ids TEXT,
				payload_field TEXT,
				comparator TEXT CHECK (comparator IS NULL OR comparator IN ('gt', 'ge', 'lt', 'le', 'eq', 'ne')),
				threshold REAL,
				consecutive_failures INTEGER NOT NULL DEFAULT 1,
				cooldown_minutes INTEGER NOT NULL DEFAULT 0,
				channels TEXT NOT NULL DEFAULT '[]',
				is_active BOOLEAN NOT NULL DEFAULT 1,
				last_triggered_at DATETIME,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
				UNIQUE (user_id, name)
			);

			CREATE INDEX idx_alert_rules_user_id ON alert_rules(user_id);
			CREATE INDEX idx_alert_rules_is_active ON alert_rules(is_active);
		`,
		DownSQL: `DROP TABLE IF EXISTS alert_rules;`,
	})

	// Migration 12: Create alert_states table
	m.AddMigration(Migration{
		Version: 12,
		Name:    "create_alert_states_table",
		UpSQL: `
			CREATE TABLE alert_states (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				rule_id INTEGER NOT NULL,
				crawler_id INTEGER NOT NULL,
				user_id INTEGER NOT NULL,
				consecutive_hits INTEGER NOT NULL DEFAULT 0,
				last_triggered_at DATETIME,
				last_status TEXT,
				last_value REAL,
				context TEXT,
				FOREIGN KEY (rule_id) REFERENCES alert_rules(id) ON DELETE CASCADE,
				FOREIGN KEY (crawler_id) REFERENCES crawlers(id) ON DELETE CASCADE,
				UNIQUE (rule_id, crawler_id)
			);

			CREATE INDEX idx_alert_states_rule_id ON alert_states(rule_id);
			CREATE INDEX idx_alert_states_crawler_id ON alert_states(crawler_id);
		`,
		DownSQL: `DROP TABLE IF EXISTS alert_states;`,
	})

	// Migration 13: Create alert_events table
	m.AddMigration(Migration{
		Version: 13,
		Name:    "create_alert_events_table",
		UpSQL: `
			CREATE TABLE alert_events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				rule_id INTEGER NOT NULL,
				crawler_id INTEGER NOT NULL,
				user_id INTEGER NOT NULL,
				triggered_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'sent', 'failed', 'skipped')),
				message TEXT NOT NULL,
				payload TEXT,
				channel_results TEXT,
				error TEXT,
				FOREIGN KEY (rule_id) REFERENCES alert_rules(id) ON DELETE CASCADE,
				FOREIGN KEY (crawler_id) REFERENCES crawlers(id) ON DELETE CASCADE
			);

			CREATE INDEX idx_alert_events_rule_id ON alert_events(rule_id);
			CREATE INDEX idx_alert_events_user_id ON alert_events(user_id);
			CREATE INDEX idx_alert_events_triggered_at ON alert_events(triggered_at);
		`,
		DownSQL: `DROP TABLE IF EXISTS alert_events;`,
	})

	// Migration 14: Create quick_links table
	m.AddMigration(Migration{
		Version: 14,
		Name:    "create_quick_links_table",
		UpSQL: `
			CREATE TABLE quick_links (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				slug TEXT NOT NULL UNIQUE,
				target_type TEXT NOT NULL CHECK (target_type IN ('crawler', 'api_key', 'group')),
				crawler_id INTEGER,
				api_key_id INTEGER,
				group_id INTEGER,
				description TEXT NOT NULL DEFAULT '',
				allow_logs BOOLEAN NOT NULL DEFAULT 0,
				is_active BOOLEAN NOT NULL DEFAULT 1,
				created_by INTEGER NOT NULL,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				FOREIGN KEY (created_by) REFERENCES users(id) ON DELETE CASCADE
			);

			CREATE INDEX idx_quick_links_slug ON quick_links(slug);
		`,
		DownSQL: `DROP TABLE IF EXISTS quick_links;`,
	})

	log.Debug().Int("count", len(m.migrations)).Msg("Built-in migrations registered")
}

// AddMigration registers a new migration.
//
// Migrations are automatically sorted by version number to ensure
// they are applied in the correct order.
func (m *Migrator) AddMigration(migration Migration) {
	m.migrations = append(m.migrations, migration)

	// Sort migrations by version to ensure correct order
	sort.Slice(m.migrations, func(i, j int) bool {
		return m.migrations[i].Version < m.migrations[j].Version
	})
}

// Migrate applies all pending migrations to the database.
//
// This method is idempotent - it only applies migrations that haven't
// been applied yet. Each migration runs in its own transaction for atomicity.
//
// Returns the number of migrations applied and any error encountered.
func (m *Migrator) Migrate() (int, error) {
	// Get list of applied migrations
	appliedVersions, err := m.getAppliedVersions()
	if err != nil {
		return 0, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	appliedCount := 0

	// Apply pending migrations
	for _, migration := range m.migrations {
		if m.isMigrationApplied(migration.Version, appliedVersions) {
			log.Debug().
				Int("version", migration.Version).
				Str("name", migration.Name).
				Msg("Migration already applied, skipping")
			continue
		}

		log.Info().
			Int("version", migration.Version).
			Str("name", migration.Name).
			Msg("Applying migration")

		if err := m.applyMigration(migration); err != nil {
			return appliedCount, fmt.Errorf("failed to apply migration %d (%s): %w",
				migration.Version, migration.Name, err)
		}

		appliedCount++

		log.Info().
			Int("version", migration.Version).
			Str("name", migration.Name).
			Msg("Migration applied successfully")
	}

	if appliedCount > 0 {
		log.Info().Int("count", appliedCount).Msg("Database migrations completed")
	} else {
		log.Debug().Msg("No pending migrations")
	}

	return appliedCount, nil
}

// getAppliedVersions retrieves the list of migration versions that have been applied.
func (m *Migrator) getAppliedVersions() ([]int, error) {
	query := "SELECT version FROM schema_migrations ORDER BY version"

	rows, err := m.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		versions = append(versions, version)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migration rows: %w", err)
	}

	return versions, nil
}

// isMigrationApplied checks if a migration version has already been applied.
func (m *Migrator) isMigrationApplied(version int, appliedVersions []int) bool {
	for _, applied := range appliedVersions {
		if applied == version {
			return true
		}
	}
	return false
}

// applyMigration applies a single migration within a database transaction.
//
// If any part of the migration fails, the entire transaction is rolled back
// to maintain database consistency.
func (m *Migrator) applyMigration(migration Migration) error {
	// Start transaction for atomic migration
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() // Will be ignored if tx.Commit() succeeds

	// Execute migration SQL
	// Split by semicolon to handle multiple statements
	statements := m.splitSQL(migration.UpSQL)
	for i, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}

		log.Debug().
			Int("version", migration.Version).
			Int("statement", i+1).
			Str("sql", stmt).
			Msg("Executing migration statement")

		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute statement %d: %w", i+1, err)
		}
	}

	// Record migration as applied
	recordQuery := `
		INSERT INTO schema_migrations (version, name, applied_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
	`
	if _, err := tx.Exec(recordQuery, migration.Version, migration.Name); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	// Commit transaction
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}

	return nil
}

// splitSQL splits a SQL script into individual statements.
//
// This is a simple implementation that splits on semicolons.
// A more robust implementation might handle SQL comments and string literals.
func (m *Migrator) splitSQL(sql string) []string {
	statements := strings.Split(sql, ";")

	// Filter out empty statements
	var result []string
	for _, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			result = append(result, stmt)
		}
	}

	return result
}

// GetMigrationStatus returns information about migration status.
func (m *Migrator) GetMigrationStatus() ([]MigrationRecord, error) {
	query := `
		SELECT version, name, applied_at
		FROM schema_migrations
		ORDER BY version
	`

	rows, err := m.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query migration status: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var record MigrationRecord
		if err := rows.Scan(&record.Version, &record.Name, &record.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migration records: %w", err)
	}

	return records, nil
}

// GetPendingMigrations returns a list of migrations that haven't been applied yet.
func (m *Migrator) GetPendingMigrations() ([]Migration, error) {
	appliedVersions, err := m.getAppliedVersions()
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	var pending []Migration
	for _, migration := range m.migrations {
		if !m.isMigrationApplied(migration.Version, appliedVersions) {
			pending = append(pending, migration)
		}
	}

	return pending, nil
}
