// Package account is the durable record of every account that may sign in to
// the panel or the companion app.
//
// Each row carries the credential hash, the enabled/admin flags and the
// presence slot: the one session ID that is currently authoritative for the
// account. Presence writes are compare-and-set on Version so that two
// processes racing on the same account cannot both win.
//
// Three backends implement Store: MemoryStore (tests, single-node dev),
// BoltStore (embedded single-node) and PostgresStore.
package account
