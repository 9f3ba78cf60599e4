// Package database manages the SQLite database that backs the SQLite
// configuration source.
//
// The database holds two operator-edited tables, utilities and registers,
// whose column names follow the same aliases as the CSV and workbook
// sources. Schema migrations are embedded in the binary (see the
// top-level migrations package) and applied at startup with Migrate.
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
