// Package schema applies versioned SQL migrations to a Postgres database.
//
// A migration source is a directory of numeric version subdirectories:
//
//	migrations/
//	  1/
//	    001_tables.sql
//	    002_indexes.sql
//	  2/
//	    001_add_language_column.sql
//
// Each version's .sql files are applied in lexical order. The current
// version is tracked in the schema_version table, which the runner creates
// on first upgrade; a database without the table reads as version 0. An
// upgrade applies every version above the current one inside a single
// transaction and is a no-op when the schema is already current, so the
// boot sequence can run it unconditionally on every container start.
package schema
