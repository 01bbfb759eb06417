// Package store is the SQLite-backed implementation of the entity stores,
// the lease manager and the crash recovery sweep.
//
// All state lives in one database file opened with a single connection.
// Every mutation is a short BEGIN IMMEDIATE transaction, which serializes
// writers at the storage layer; the lease query selects and marks rows in a
// single UPDATE ... RETURNING statement so no in-process lock is needed for
// claim assignment.
//
// Timestamps are stored as fixed-width UTC strings and enums as their
// ordinal values, so the recovery SQL can compare them literally.
//
// Schema changes are embedded migrations applied by Open (see Migrate).
package store
