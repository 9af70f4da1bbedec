// Package presence enforces that an account is signed in to at most one
// session at a time.
//
// Per account the state is LoggedOut or LoggedIn(sessionID):
//
//	LoggedOut    --Login-->                         LoggedIn(t)
//	LoggedIn(t)  --Logout|Disable|Expire|Partner--> LoggedOut
//	LoggedIn(t)  --Takeover-->                      LoggedIn(t2)
//
// Every mutation for one account runs under a per-username lock. Across
// processes the ledger's one-open-record rule and the account row's version
// compare-and-set decide races. Partner notifications are dispatched only
// after the lock is released; they never block or fail a transition.
package presence
