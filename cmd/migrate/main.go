// Command migrate applies the schema migrations under the migrations
// directory. Database settings come from the same environment variables
// the server reads; versions are tracked in schema_migrations.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/spott-app/spott-backend/internal/config"
)

func main() {
	var (
		path    = flag.String("path", "migrations", "path to the migrations directory")
		timeout = flag.Duration("timeout", 5*time.Minute, "lock timeout for a migration run")
	)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	if args[0] == "create" {
		if len(args) < 2 {
			log.Fatal("create requires a migration name")
		}
		if err := createMigration(*path, args[1]); err != nil {
			log.Fatalf("create failed: %v", err)
		}
		return
	}

	cfg := config.Load()
	m, err := openMigrate(cfg.Database.DSN(), *path, *timeout)
	if err != nil {
		log.Fatalf("migrate setup failed: %v", err)
	}
	defer m.Close()

	if err := run(m, args[0], args[1:]); err != nil {
		log.Fatalf("%s failed: %v", args[0], err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [args]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  up [N]       apply all (or the next N) pending migrations\n")
	fmt.Fprintf(os.Stderr, "  down [N]     roll back all (or the last N) migrations\n")
	fmt.Fprintf(os.Stderr, "  version      print the current schema version\n")
	fmt.Fprintf(os.Stderr, "  force V      mark version V without running migrations\n")
	fmt.Fprintf(os.Stderr, "  create NAME  create an empty up/down migration pair\n")
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nThe database connection uses the DB_* environment variables.\n")
}

func run(m *migrate.Migrate, cmd string, args []string) error {
	switch cmd {
	case "up":
		steps, err := stepArg(args)
		if err != nil {
			return err
		}
		from := currentVersion(m)
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
		return report(m, from, err)
	case "down":
		steps, err := stepArg(args)
		if err != nil {
			return err
		}
		from := currentVersion(m)
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
		return report(m, from, err)
	case "version":
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Println("no migrations applied yet")
			return nil
		}
		if err != nil {
			return err
		}
		if dirty {
			log.Printf("schema version %d (dirty)", v)
		} else {
			log.Printf("schema version %d", v)
		}
		return nil
	case "force":
		if len(args) < 1 {
			return errors.New("force requires a version number")
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q", args[0])
		}
		if err := m.Force(v); err != nil {
			return err
		}
		log.Printf("schema version forced to %d", v)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func stepArg(args []string) (int, error) {
	if len(args) == 0 {
		return 0, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid step count %q", args[0])
	}
	return n, nil
}

func currentVersion(m *migrate.Migrate) uint {
	v, _, _ := m.Version()
	return v
}

func report(m *migrate.Migrate, from uint, err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("nothing to do")
		return nil
	}
	if err != nil {
		return err
	}
	log.Printf("migrated %d -> %d", from, currentVersion(m))
	return nil
}

// createMigration writes an empty NNN_name.up.sql / NNN_name.down.sql
// pair, numbering after the highest existing migration.
func createMigration(path, name string) error {
	next := 1
	entries, err := os.ReadDir(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, entry := range entries {
		var n int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &n); err == nil && n >= next {
			next = n + 1
		}
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	for _, direction := range []string{"up", "down"} {
		file := filepath.Join(path, fmt.Sprintf("%03d_%s.%s.sql", next, name, direction))
		header := fmt.Sprintf("-- %s (%s)\n", name, direction)
		if err := os.WriteFile(file, []byte(header), 0o644); err != nil {
			return err
		}
		log.Printf("created %s", file)
	}
	return nil
}

func openMigrate(dsn, path string, timeout time.Duration) (*migrate.Migrate, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create driver: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+abs, "postgres", driver)
	if err != nil {
		return nil, err
	}
	m.LockTimeout = timeout
	return m, nil
}
