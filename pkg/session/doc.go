// Package session owns conversation state: ordered turn history, chain
// position, and per-agent accumulated state, keyed by session id.
//
// Invariants:
//   - Turns within one session are totally ordered by append sequence.
//   - All mutations on one session happen under that session's exclusive
//     section; operations on distinct sessions proceed independently.
//   - Chain position only advances forward or stays, except on explicit
//     reset.
package session
