// Package peer is the client-side session manager for a multi-party call.
//
// A Manager owns one peer connection per remote participant, drives the
// offer/answer/candidate handshake through the signaling server, and rebuilds
// individual connections with capped backoff when they degrade. The embedding
// application supplies local media and identity and consumes remote streams,
// participants, and chat through callbacks.
package peer
