// Package lock serializes work on a single key.
//
// Webhook reconciliation reads a transaction, compares its status and writes
// it back. Two deliveries for the same external reference must not interleave
// that sequence, so the reconciler holds a lock on the reference while it
// works. RedisLocker shares the lock across instances; LocalLocker is used
// when no Redis is configured.
package lock
