package main

// Run database migrations:
//   go run ./cmd/migrate
// Print migration status:
//   go run ./cmd/migrate -status
// Load journal notes into the full-text search table:
//   go run ./cmd/migrate -ingest-journal ./journal

import (
	"context"
	"flag"
	"log"
	"os"

	"thesis-backend/internal/retrieval"
	"thesis-backend/internal/shared/config"
	"thesis-backend/internal/shared/storage/db"
)

func main() {
	status := flag.Bool("status", false, "print migration status and exit")
	journalDir := flag.String("ingest-journal", "", "directory of .txt/.md journal notes to index after migrating")
	flag.Parse()

	cfg := config.Load()
	ctx := context.Background()

	if cfg.DatabaseURL == "" {
		log.Printf("DATABASE_URL is required")
		os.Exit(1)
	}

	opts := db.OptionsFromEnv(db.DefaultMigrateOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		log.Printf("failed to connect database: %v", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	if *status {
		if err := db.MigrationStatus(ctx, sqlDB); err != nil {
			log.Printf("failed to read migration status: %v", err)
			os.Exit(1)
		}
		return
	}

	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		log.Printf("failed to run migrations: %v", err)
		os.Exit(1)
	}

	if *journalDir == "" {
		return
	}
	journal, err := retrieval.LoadJournalDir(*journalDir, cfg.RetrievalK)
	if err != nil {
		log.Printf("failed to load journal: %v", err)
		os.Exit(1)
	}
	n, err := retrieval.NewPGRetriever(sqlDB, cfg.RetrievalK).InsertChunks(ctx, journal.Chunks())
	if err != nil {
		log.Printf("failed to ingest journal: %v", err)
		os.Exit(1)
	}
	log.Printf("ingested %d journal chunks from %s", n, *journalDir)
}
