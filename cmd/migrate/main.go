// Command migrate applies the SQL files in migrations/ in lexical order,
// tracking applied files in a schema_migrations table. Re-running is safe.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	var (
		dbURL = flag.String("db", os.Getenv("CLAWSTAK_DATABASE_URL"), "Postgres connection string")
		dir   = flag.String("dir", "migrations", "Migrations directory")
	)
	flag.Parse()

	if err := run(*dbURL, *dir); err != nil {
		log.Fatal(err)
	}
}

func run(dbURL, dir string) error {
	if dbURL == "" {
		return fmt.Errorf("missing -db or CLAWSTAK_DATABASE_URL")
	}

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(`
		create table if not exists schema_migrations (
			filename text primary key,
			applied_at timestamptz not null default now()
		)
	`); err != nil {
		return fmt.Errorf("migrations table: %w", err)
	}

	files, err := pendingFiles(db, dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		log.Printf("nothing to apply in %s", dir)
		return nil
	}

	for _, p := range files {
		if err := apply(db, p); err != nil {
			return fmt.Errorf("apply %s: %w", p, err)
		}
		log.Printf("applied %s", filepath.Base(p))
	}
	return nil
}

func pendingFiles(db *sql.DB, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".sql") {
			continue
		}
		var applied bool
		err := db.QueryRow(`select exists(select 1 from schema_migrations where filename=$1)`, e.Name()).Scan(&applied)
		if err != nil {
			return nil, err
		}
		if !applied {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func apply(db *sql.DB, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	sqlText := strings.TrimSpace(string(b))
	if sqlText == "" {
		return fmt.Errorf("empty migration")
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(sqlText); err != nil {
		return err
	}
	if _, err := tx.Exec(`insert into schema_migrations (filename) values ($1)`, filepath.Base(path)); err != nil {
		return err
	}
	return tx.Commit()
}
