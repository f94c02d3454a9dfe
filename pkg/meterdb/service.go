// Package meterdb stores grid readings, meter registrations and hourly
// aggregates in SQLite. Only meter_collector writes to it; other services
// may read it concurrently thanks to WAL mode.
package meterdb

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/NotCoffee418/dbmigrator"
	"github.com/NotCoffee418/p1_gridmeter/pkg/pathing"
	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"
)

var (
	db   *sql.DB
	once sync.Once
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// InitializeDatabase opens the database and applies pending migrations.
func InitializeDatabase() {
	// Create DB before migrations
	db := GetDB()
	if _, err := db.Exec("SELECT 1;"); err != nil {
		log.Warn().Err(err).Msg("Could not create DB")
	}

	// Apply migrations
	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(
		db,
		migrationFS,
		"migrations",
	)
}

func GetDB() *sql.DB {
	once.Do(func() {
		var err error
		db, err = Open(pathing.GetMeterDbPath())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open meter database")
		}
	})
	return db
}

// Open connects to the sqlite file at path and verifies the connection.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", path, err)
	}
	return conn, nil
}

// ApplyUpMigrations runs the up sections of the embedded migrations
// without recording them. Only meant for throwaway databases.
func ApplyUpMigrations(conn *sql.DB) error {
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := migrationFS.ReadFile(name)
		if err != nil {
			return err
		}
		up, _, _ := strings.Cut(string(content), "-- +down")
		up = strings.TrimPrefix(strings.TrimSpace(up), "-- +up")

		for _, stmt := range strings.Split(up, ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := conn.Exec(stmt); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	return nil
}
