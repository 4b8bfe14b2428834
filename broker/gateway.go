package broker

// ConnID is the opaque transport-level connection reference. The broker
// never touches the socket itself; delivery goes through the Gateway.
type ConnID string

// Gateway is the outbound half of the transport boundary. Implementations
// must be non-blocking from the broker's perspective: a slow or dead
// receiver is the transport's problem, not the router's.
type Gateway interface {
	// ToConnection delivers to a single connection.
	ToConnection(conn ConnID, event string, payload ...any)

	// ToRoom delivers to every connection in the room, sender included.
	ToRoom(roomID string, event string, payload ...any)

	// ToRoomExcept delivers to every connection in the room except one.
	ToRoomExcept(roomID string, except ConnID, event string, payload ...any)
}
