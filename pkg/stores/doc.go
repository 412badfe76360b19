// Package stores provides the data source cache backends for Vizor.
//
// Every backend implements Store and therefore engine.DataSourceCache:
//   - MemoryStore keeps values in process and is the default.
//   - SQLiteStore persists JSON encoded values in a WAL mode SQLite database
//     migrated with golang-migrate.
//   - RedisStore shares values between hosts through Redis.
//
// Open selects a backend by name and prepares it for use.
package stores
