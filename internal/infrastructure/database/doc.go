// Package database provides SQLite connectivity for a RoomLink node.
//
// The node's object registry is never persisted. SQLite only backs the
// optional peer snapshot store (downlink.store: sqlite), so the schema is
// small and migrations are embedded by the migrations package:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are pairs of YYYYMMDD_HHMMSS_description.up.sql and
// .down.sql files, each applied in its own transaction.
package database
