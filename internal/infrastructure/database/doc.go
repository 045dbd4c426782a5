// Package database provides SQLite storage for adbfleet.
//
// It wraps database/sql with lifecycle management and an embedded
// migration runner. Command and alert history repositories build on the
// DB type defined here.
//
// # Migrations
//
// Migrations are .sql files embedded into the binary by the migrations
// package. Files follow the naming convention:
//
//	YYYYMMDD_HHMMSS_description.up.sql
//	YYYYMMDD_HHMMSS_description.down.sql
//
// Each migration runs in its own transaction and is recorded in the
// schema_migrations table.
//
// # Usage
//
//	db, err := database.Open(database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
