// Package ledger records the start and end of every session.
//
// A Record is opened on login, closed on logout, takeover, disable, delete or
// expiry, and is otherwise append-only. At most one record per account may be
// open at a time; every Store enforces that independently of the caller's
// locking (a unique partial index in Postgres, an index bucket in bbolt).
package ledger
