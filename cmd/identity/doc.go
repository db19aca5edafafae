// Package identity is the token store: it owns the identities table and every
// SQL statement issued against it.
//
// Three backends sit behind one Store interface (SQLite, MySQL, PostgreSQL).
// Each implementation carries its own statement text, placeholder style,
// id strategy and duplicate-key detection; callers only ever see the sentinel
// kinds in kinds.go wrapped in an OpError naming the failed operation.
//
// Stores never own their pool. Open builds one per backend and hands back a DB
// that the caller closes.
package identity
