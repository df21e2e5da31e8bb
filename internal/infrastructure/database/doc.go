// Package database opens the station's SQLite database and applies its
// schema migrations.
//
// The database holds the DTMF mapping table, the call log and the event
// log. Migrations are read from any fs.FS, normally the embedded files of
// package migrations:
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
// Migrations are additive: new columns are nullable or have defaults, and
// every up file has a matching down file.
package database
