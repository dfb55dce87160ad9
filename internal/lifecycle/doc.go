// Package lifecycle is the message state machine.
//
// A transition moves a message between two collection documents with two
// compare-and-swap writes: remove from the source, then append to the
// target. The store has no multi-document transaction, so the window
// between the writes is handled explicitly:
//
//   - Before the first write the engine records an intent (message id,
//     source, target, updated record) in the intent log.
//   - After the second write the intent is cleared.
//   - A failed second write returns *IncompleteTransitionError. Re-invoking
//     the same transition, or running Recover, completes it from the intent.
//
// Both writes are idempotent: a message already missing from the source and
// present in the target is a finished transition, and re-running it is a
// no-op that returns the target copy.
//
// Ingestion enters messages into pending. It is idempotent on sourceId
// across every active collection and reports one outcome per item; a bad
// item never aborts the rest of the batch.
package lifecycle
