// Package mirror owns the client-side mirror of the remote component tree.
//
// Ownership boundary:
// - node arena addressed by stable NodeID handles
// - parent/child structure (parents own children, children keep a
//   non-owning parent handle)
// - element members: attributes, properties, event descriptors
// - lookup by handle, by component id, and by logical element id
//
// The tree carries no locking. Exactly one batch application may run
// against a tree at a time; the session serializes access.
package mirror
