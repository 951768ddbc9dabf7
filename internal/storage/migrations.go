package storage

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"
)

const schemaVersionMetaKey = "schema_version"

// SchemaPolicy selects what Open does with an existing database.
type SchemaPolicy string

const (
	// SchemaPolicyMigrate keeps existing rows and applies pending migrations.
	SchemaPolicyMigrate SchemaPolicy = "migrate"
	// SchemaPolicyReset drops every table and rebuilds the schema on the
	// first open of each process. All stored data is lost.
	SchemaPolicyReset SchemaPolicy = "reset"
)

func ParseSchemaPolicy(raw string) (SchemaPolicy, error) {
	switch SchemaPolicy(raw) {
	case "", SchemaPolicyMigrate:
		return SchemaPolicyMigrate, nil
	case SchemaPolicyReset:
		return SchemaPolicyReset, nil
	default:
		return "", fmt.Errorf("unknown schema policy %q", raw)
	}
}

type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

var defaultMigrations = []Migration{
	{
		Version:     1,
		Description: "create entity tables",
		Up: func(tx *sql.Tx) error {
			statements := []string{
				`CREATE TABLE IF NOT EXISTS assessments (
					id TEXT PRIMARY KEY NOT NULL,
					title TEXT NOT NULL,
					teacher_name TEXT NOT NULL DEFAULT '',
					subject TEXT NOT NULL DEFAULT '',
					class_room TEXT NOT NULL DEFAULT '',
					paper_images TEXT NOT NULL DEFAULT '[]',
					created_at INTEGER NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS questions (
					id TEXT NOT NULL,
					assessment_id TEXT NOT NULL,
					position INTEGER NOT NULL,
					text TEXT NOT NULL,
					marks INTEGER NOT NULL,
					type TEXT NOT NULL,
					instruction TEXT NOT NULL DEFAULT '',
					options TEXT,
					PRIMARY KEY (assessment_id, id),
					FOREIGN KEY (assessment_id) REFERENCES assessments(id) ON DELETE CASCADE
				)`,
				`CREATE TABLE IF NOT EXISTS evaluations (
					id TEXT PRIMARY KEY NOT NULL,
					assessment_id TEXT NOT NULL,
					student_image TEXT NOT NULL DEFAULT '',
					total_marks INTEGER NOT NULL,
					obtained_marks INTEGER NOT NULL,
					overall_feedback TEXT NOT NULL DEFAULT '',
					results TEXT NOT NULL DEFAULT '[]',
					created_at INTEGER NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_assessments_created_at ON assessments(created_at)`,
			}
			for _, stmt := range statements {
				if _, err := tx.Exec(stmt); err != nil {
					return fmt.Errorf("apply migration v1 statement: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "add evaluation student name and pages",
		Up: func(tx *sql.Tx) error {
			type columnSpec struct {
				name       string
				definition string
			}

			columns := []columnSpec{
				{name: "student_name", definition: `TEXT NOT NULL DEFAULT ''`},
				{name: "pages", definition: `TEXT NOT NULL DEFAULT '[]'`},
			}
			for _, column := range columns {
				exists, err := columnExists(tx, "evaluations", column.name)
				if err != nil {
					return err
				}
				if exists {
					continue
				}
				if _, err := tx.Exec(`ALTER TABLE evaluations ADD COLUMN ` + column.name + ` ` + column.definition); err != nil {
					return fmt.Errorf("add evaluations.%s: %w", column.name, err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "add evaluation status and assessment index",
		Up: func(tx *sql.Tx) error {
			ok, err := columnExists(tx, "evaluations", "status")
			if err != nil {
				return err
			}
			if !ok {
				if _, err := tx.Exec(`ALTER TABLE evaluations ADD COLUMN status TEXT NOT NULL DEFAULT 'completed'`); err != nil {
					return fmt.Errorf("add evaluations.status: %w", err)
				}
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_evaluations_assessment_created_at ON evaluations(assessment_id, created_at)`); err != nil {
				return fmt.Errorf("create evaluation assessment index: %w", err)
			}
			return nil
		},
	},
}

// resetTables lists every table owned by the schema, children first.
var resetTables = []string{"questions", "evaluations", "assessments", "schema_migrations", "store_meta"}

func DefaultMigrations() []Migration {
	out := make([]Migration, len(defaultMigrations))
	copy(out, defaultMigrations)
	return out
}

func CurrentSchemaVersion() int {
	return maxMigrationVersion(defaultMigrations)
}

func RunMigrations(db *sql.DB, migrations []Migration) error {
	if db == nil {
		return fmt.Errorf("run migrations: db is nil")
	}

	if err := ensureMigrationTables(db); err != nil {
		return err
	}

	ordered := make([]Migration, len(migrations))
	copy(ordered, migrations)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })

	current, err := readSchemaVersion(db)
	if err != nil {
		return err
	}

	maxVersion := maxMigrationVersion(ordered)
	if current > maxVersion {
		return fmt.Errorf("%w: db=%d code=%d", ErrSchemaTooNew, current, maxVersion)
	}

	for _, migration := range ordered {
		if migration.Version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", migration.Version, err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration v%d (%s): %w", migration.Version, migration.Description, err)
		}

		if _, err := tx.Exec(`INSERT OR REPLACE INTO schema_migrations(version, applied_at) VALUES (?, ?)`, migration.Version, nowUTCString()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record schema migration v%d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(`INSERT OR REPLACE INTO store_meta(key, value) VALUES(?, ?)`, schemaVersionMetaKey, strconv.Itoa(migration.Version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("update schema version v%d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", migration.Version, err)
		}
	}

	return nil
}

// ResetSchema drops every table owned by the schema inside one transaction.
// RunMigrations must be called afterwards to rebuild it.
func ResetSchema(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("reset schema: db is nil")
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("reset schema: begin tx: %w", err)
	}
	for _, table := range resetTables {
		if _, err := tx.Exec(`DROP TABLE IF EXISTS ` + table); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("reset schema: drop %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reset schema: commit: %w", err)
	}
	return nil
}

func ensureMigrationTables(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS store_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`,
		`INSERT OR IGNORE INTO store_meta(key, value) VALUES('` + schemaVersionMetaKey + `', '0')`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure migration tables: %w", err)
		}
	}
	return nil
}

func readSchemaVersion(db *sql.DB) (int, error) {
	var versionStr string
	if err := db.QueryRow(`SELECT value FROM store_meta WHERE key = ?`, schemaVersionMetaKey).Scan(&versionStr); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	version, err := strconv.Atoi(versionStr)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", versionStr, err)
	}
	return version, nil
}

func maxMigrationVersion(migrations []Migration) int {
	max := 0
	for _, migration := range migrations {
		if migration.Version > max {
			max = migration.Version
		}
	}
	return max
}

func columnExists(tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.Query(`PRAGMA table_info(` + table + `)`)
	if err != nil {
		return false, fmt.Errorf("query table info %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			typeStr string
			notNull int
			dfltVal sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typeStr, &notNull, &dfltVal, &pk); err != nil {
			return false, fmt.Errorf("scan table info %s: %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("iterate table info %s: %w", table, err)
	}
	return false, nil
}
