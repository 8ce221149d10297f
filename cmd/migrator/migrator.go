package main

import (
	"log"
	"os"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"papertrade/internal/config"
	"papertrade/internal/migration"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: migrator up|down")
	}

	cfg := config.Load()
	m := &migration.Migrate{
		SourcePath:  cfg.MigrationsPath,
		DatabaseURI: cfg.DatabaseURI(),
	}

	switch os.Args[1] {
	case "up":
		if err := m.MigrateUp(); err != nil {
			log.Fatalf("migration up failed: %v", err)
		}
		log.Println("migration up success")
	case "down":
		if err := m.MigrateDown(); err != nil {
			log.Fatalf("migration down failed: %v", err)
		}
		log.Println("migration down success")
	default:
		log.Fatalf("unknown command: %s", os.Args[1])
	}
}
