// Package stores provides the deployer's run journal: a SQLite database
// (WAL mode, embedded golang-migrate migrations) recording every run and its
// per-stage results, so the completion report can show when the host was
// last provisioned successfully.
package stores
