package db

import (
	"fmt"
	"log"
	"os"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand.
func RunMigrateCommand(args []string, dbPath string) {
	if len(args) < 1 {
		PrintMigrateHelp()
		os.Exit(1)
	}

	database, err := OpenDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	migrations := Migrations()

	switch action := args[0]; action {
	case "up":
		log.Printf("Running migrations...")
		if err := database.MigrateUp(migrations); err != nil {
			log.Fatalf("Migration up failed: %v", err)
		}
		printVersion(database)

	case "down":
		log.Printf("Rolling back one migration...")
		if err := database.MigrateDown(migrations); err != nil {
			log.Fatalf("Migration down failed: %v", err)
		}
		printVersion(database)

	case "status":
		printVersion(database)

	case "version":
		if len(args) < 2 {
			log.Fatal("Usage: centerout migrate version <version_number>")
		}
		v, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			log.Fatalf("Invalid version number: %s", args[1])
		}
		if err := database.MigrateTo(migrations, uint(v)); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		printVersion(database)

	case "force":
		if len(args) < 2 {
			log.Fatal("Usage: centerout migrate force <version_number>")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatalf("Invalid version number: %s", args[1])
		}
		if err := database.MigrateForce(migrations, v); err != nil {
			log.Fatalf("Force failed: %v", err)
		}
		printVersion(database)

	case "help":
		PrintMigrateHelp()

	default:
		fmt.Printf("Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp()
		os.Exit(1)
	}
}

func printVersion(database *DB) {
	version, dirty, err := database.MigrateVersion(Migrations())
	if err != nil {
		log.Fatalf("Failed to get migration status: %v", err)
	}
	fmt.Printf("Current version: %d (dirty: %v)\n", version, dirty)
	if dirty {
		fmt.Println("A migration failed mid-execution; inspect the database and run: centerout migrate force <version>")
	}
}

// PrintMigrateHelp prints usage for the migrate subcommand.
func PrintMigrateHelp() {
	fmt.Println(`Usage: centerout migrate <action> [args]

Actions:
  up                 Apply all pending migrations
  down               Roll back the most recent migration
  status             Show the current schema version
  version <n>        Migrate up or down to version n
  force <n>          Mark version n as applied without running it
  help               Show this help`)
}
