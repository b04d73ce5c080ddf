package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Журнал миграций autoparts живёт в своей таблице и под своим advisory lock,
// чтобы не пересекаться с другими сервисами в той же базе.
const (
	migrationsDir        = "sql/migrations"
	migrationsTable      = "autoparts_schema_migrations"
	migrationLockTimeout = 10 * time.Second
)

// migrationLockKey — "autopart" в ASCII.
const migrationLockKey int64 = 0x6175746f70617274

var (
	//go:embed sql/migrations/*.sql
	embeddedMigrations embed.FS

	migrationFileRe = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)

	errNoStore = errors.New("postgres store is not initialized")
)

var migrationTableDDL = `
CREATE TABLE IF NOT EXISTS ` + migrationsTable + ` (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    checksum TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// schemaMigration — пара up/down-скриптов одной версии схемы.
type schemaMigration struct {
	Version  int64
	Name     string
	Up       string
	Down     string
	Checksum string
}

func (m schemaMigration) String() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

// MigrateUp применяет steps непринятых миграций схемы каталога и заказов; 0 — все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withMigrationLock(ctx, func(conn *sql.Conn, plan []schemaMigration) error {
		applied, err := appliedChecksums(ctx, conn)
		if err != nil {
			return err
		}
		done := 0
		for _, m := range plan {
			if sum, ok := applied[m.Version]; ok {
				if sum != m.Checksum {
					return fmt.Errorf("migration %s was modified after it was applied", m)
				}
				continue
			}
			if steps > 0 && done >= steps {
				break
			}
			if err := runMigration(ctx, conn, m.Up, `INSERT INTO `+migrationsTable+` (version, name, checksum) VALUES ($1, $2, $3)`, m.Version, m.Name, m.Checksum); err != nil {
				return fmt.Errorf("apply migration %s: %w", m, err)
			}
			s.log().WithFields(log.Fields{"version": m.Version, "name": m.Name}).Info("migration applied")
			done++
		}
		if done == 0 {
			s.log().Debug("schema is up to date")
		}
		return nil
	})
}

// MigrateDown откатывает steps последних миграций; steps<=0 откатывает одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.withMigrationLock(ctx, func(conn *sql.Conn, plan []schemaMigration) error {
		byVersion := make(map[int64]schemaMigration, len(plan))
		for _, m := range plan {
			byVersion[m.Version] = m
		}
		applied, err := appliedChecksums(ctx, conn)
		if err != nil {
			return err
		}
		versions := make([]int64, 0, len(applied))
		for v := range applied {
			versions = append(versions, v)
		}
		sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
		if len(versions) > steps {
			versions = versions[:steps]
		}

		for _, v := range versions {
			m, ok := byVersion[v]
			if !ok {
				return fmt.Errorf("no down script for applied migration version %d", v)
			}
			if err := runMigration(ctx, conn, m.Down, `DELETE FROM `+migrationsTable+` WHERE version = $1`, m.Version); err != nil {
				return fmt.Errorf("roll back migration %s: %w", m, err)
			}
			s.log().WithFields(log.Fields{"version": m.Version, "name": m.Name}).Info("migration rolled back")
		}
		return nil
	})
}

// MigrationStatus возвращает последнюю применённую версию и число применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, errNoStore
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, migrationTableDDL); err != nil {
		return 0, 0, fmt.Errorf("ensure %s: %w", migrationsTable, err)
	}
	var (
		version int64
		count   int
	)
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0), COUNT(*) FROM `+migrationsTable).Scan(&version, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("read migration status: %w", err)
	}
	return version, count, nil
}

// withMigrationLock держит advisory lock на выделенном соединении: миграции
// нескольких реплик при старте выполняются строго по очереди.
func (s *Store) withMigrationLock(ctx context.Context, fn func(conn *sql.Conn, plan []schemaMigration) error) error {
	if s == nil || s.db == nil {
		return errNoStore
	}
	plan, err := loadMigrations(embeddedMigrations)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, migrationLockTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLockKey); err != nil {
			s.log().WithError(err).Warn("release migration lock failed")
		}
	}()

	if _, err := conn.ExecContext(ctx, migrationTableDDL); err != nil {
		return fmt.Errorf("ensure %s: %w", migrationsTable, err)
	}
	return fn(conn, plan)
}

// runMigration выполняет скрипт и запись журнала в одной транзакции.
func runMigration(ctx context.Context, conn *sql.Conn, script, journal string, args ...any) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, journal, args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update %s: %w", migrationsTable, err)
	}
	return tx.Commit()
}

func appliedChecksums(ctx context.Context, conn *sql.Conn) (map[int64]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM `+migrationsTable)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", migrationsTable, err)
	}
	defer rows.Close()

	applied := make(map[int64]string)
	for rows.Next() {
		var (
			version  int64
			checksum string
		)
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, fmt.Errorf("scan %s: %w", migrationsTable, err)
		}
		applied[version] = checksum
	}
	return applied, rows.Err()
}

// loadMigrations собирает пары up/down из каталога миграций в порядке версий.
func loadMigrations(fsys fs.FS) ([]schemaMigration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", migrationsDir, err)
	}

	byVersion := make(map[int64]*schemaMigration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationFileRe.FindStringSubmatch(entry.Name())
		if match == nil {
			return nil, fmt.Errorf("unexpected file %s in %s", entry.Name(), migrationsDir)
		}
		version, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", entry.Name(), err)
		}
		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		script := strings.TrimSpace(string(raw))
		if script == "" {
			return nil, fmt.Errorf("migration %s is empty", entry.Name())
		}

		m, ok := byVersion[version]
		if !ok {
			m = &schemaMigration{Version: version, Name: match[2]}
			byVersion[version] = m
		}
		if m.Name != match[2] {
			return nil, fmt.Errorf("version %d is used by %s and %s", version, m.Name, match[2])
		}
		target := &m.Up
		if match[3] == "down" {
			target = &m.Down
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s script for migration %s", match[3], m)
		}
		*target = script
	}
	if len(byVersion) == 0 {
		return nil, fmt.Errorf("no migrations in %s", migrationsDir)
	}

	plan := make([]schemaMigration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" || m.Down == "" {
			return nil, fmt.Errorf("migration %s needs both up and down scripts", m)
		}
		sum := sha256.Sum256([]byte(m.Up))
		m.Checksum = hex.EncodeToString(sum[:])
		plan = append(plan, *m)
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].Version < plan[j].Version })
	return plan, nil
}
