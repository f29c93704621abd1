package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"climate-explorer/internal/config"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	dir := flag.String("dir", "migrations", "Directory containing migration files")
	flag.Parse()

	if *direction != "up" && *direction != "down" {
		fmt.Fprintf(os.Stderr, "Unknown direction %q, expected up or down\n", *direction)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.Postgres().DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Println("Connected to database successfully")

	// Down migrations run newest first.
	files, err := filepath.Glob(filepath.Join(*dir, "*."+*direction+".sql"))
	if err != nil || len(files) == 0 {
		fmt.Fprintf(os.Stderr, "No %s migrations found in %s\n", *direction, *dir)
		os.Exit(1)
	}
	if *direction == "down" {
		for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
			files[i], files[j] = files[j], files[i]
		}
	}

	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read migration file: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Running migration: %s\n", path)
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to execute migration %s: %v\n", path, err)
			os.Exit(1)
		}
	}

	fmt.Println("Migration completed successfully")
}
