// Package eventstore is the append-only, SQLite-backed log of datasets,
// versions, schema snapshots and change entries.
package eventstore

// createDatasetsTableSQL stores one row per dataset. Rows are never deleted.
const createDatasetsTableSQL = `
CREATE TABLE IF NOT EXISTS datasets (
    dataset_id TEXT PRIMARY KEY,
    dataset_name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    dataset_metadata TEXT,
    created_by TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
)`

// createVersionsTableSQL stores version headers. seq preserves insertion
// order; created_at is in unix nanoseconds and strictly increases within a
// dataset. version_tenths is the numeric version used to break ordering ties.
const createVersionsTableSQL = `
CREATE TABLE IF NOT EXISTS versions (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    version_id TEXT NOT NULL UNIQUE,
    dataset_id TEXT NOT NULL,
    version_number TEXT NOT NULL,
    version_tenths INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    created_by TEXT NOT NULL DEFAULT '',
    change_type TEXT NOT NULL,
    comment TEXT NOT NULL DEFAULT '',
    UNIQUE (dataset_id, version_number),
    FOREIGN KEY (dataset_id) REFERENCES datasets(dataset_id)
)`

// createSchemaColumnsTableSQL stores the full schema snapshot of each version.
const createSchemaColumnsTableSQL = `
CREATE TABLE IF NOT EXISTS schema_columns (
    version_id TEXT NOT NULL,
    column_name TEXT NOT NULL,
    data_type TEXT NOT NULL,
    is_nullable INTEGER NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    position INTEGER NOT NULL,
    PRIMARY KEY (version_id, column_name),
    FOREIGN KEY (version_id) REFERENCES versions(version_id)
)`

// createChangeLogTableSQL stores change entries. payload holds the JSON body
// in the layout described by package changelog.
const createChangeLogTableSQL = `
CREATE TABLE IF NOT EXISTS change_log (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    change_id TEXT NOT NULL UNIQUE,
    version_id TEXT NOT NULL,
    change_type TEXT NOT NULL,
    changed_by TEXT NOT NULL DEFAULT '',
    operation_time INTEGER NOT NULL,
    payload TEXT NOT NULL,
    FOREIGN KEY (version_id) REFERENCES versions(version_id)
)`

var createIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_versions_dataset_created ON versions(dataset_id, created_at, version_tenths, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_versions_change_type ON versions(dataset_id, change_type)`,
	`CREATE INDEX IF NOT EXISTS idx_schema_columns_name ON schema_columns(column_name, version_id)`,
	`CREATE INDEX IF NOT EXISTS idx_change_log_version ON change_log(version_id, seq)`,
}

// allSchemaSQL returns every DDL statement in execution order.
func allSchemaSQL() []string {
	stmts := []string{
		createDatasetsTableSQL,
		createVersionsTableSQL,
		createSchemaColumnsTableSQL,
		createChangeLogTableSQL,
	}
	return append(stmts, createIndexesSQL...)
}
