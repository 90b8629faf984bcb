// Package lock implements the task edit lock. A lock is not a separate
// entity: it is the owner and acquisition time persisted on the task record,
// and it is active only while the time since acquisition does not exceed
// Timeout. Every decision about expiry goes through Expired, so enforcement,
// display and the background sweep agree on the same boundary.
//
// Acquire and Release are single conditional writes on the store, which
// makes two requesters racing on the same stale state resolve to exactly one
// winner.
package lock
