// Package session owns one mirror session: the single-consumer inbound
// batch queue, batch sequencing, the tree/router pair and the outbound
// queue handed to the transport.
//
// Ownership boundary:
// - render-batch, dispatch and render-ack wire helpers
// - batch sequencing and desynchronization state
// - read/write exclusion over the mirror tree and event router
// - bounded outbox of encoded frames
//
// The transport itself (connect, handshake, reconnect) lives outside this
// package; it feeds frames to Enqueue and drains Outbox.
package session
