// Package signaling relays WebRTC conference signals between browser peers.
//
// Every connected client is registered under a server-assigned id. Signed
// offers bind a client's public key and mark it verified; challenge
// responses pair peers; answers and ICE candidates are routed between them;
// and every recorded peer is told exactly once when a client leaves.
//
// The Hub is transport agnostic. Server adapts it to WebSocket connections
// at GET /ws.
package signaling
