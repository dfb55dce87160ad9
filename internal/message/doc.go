// Package message defines the postbox message model and the registry that
// is the single schema boundary for it.
//
// Every message that enters the system, whether decoded from a stored
// collection document or built from an ingested item, passes through
// Registry.Normalize (or Registry.FromIncoming). Nothing downstream reads a
// message field that has not been through that boundary.
//
// # Lifecycle
//
// A message is created in the pending collection and moves forward only:
//
//	pending  -> approved -> published
//	pending  -> rejected
//
// rejected and published are terminal for the lifecycle engine. Archival
// relocates messages out of published and rejected without changing their
// status.
package message
