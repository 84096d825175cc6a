// Package database provides the SQLite connection used by the sqlite
// endpoint store.
//
// Open configures WAL mode and a busy timeout, restricts the file to the
// owner, and limits the pool to a single connection since SQLite has one
// writer. Schema changes ship as embedded YYYYMMDD_HHMMSS_name.up.sql and
// .down.sql pairs (see the migrations package) and are applied by Migrate,
// one transaction per migration.
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
