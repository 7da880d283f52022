package stream

// ConnectionState reflects where the Transport is in its connect/
// subscribe/reconnect lifecycle. This is the exact closed set spec.md
// §3 and the quantified invariant in §8 property 5 require:
// getConnectionState() must always return one of these four values —
// there is no separate externally-observable "subscribing" or
// "closing" phase. Dialing, the subscribe handshake, and a
// caller-initiated Close all fold into Connecting/Disconnected: there
// is no separate authentication phase on the wire either (the bearer
// token travels as a query parameter on the dial URL), so a connect
// attempt stays Connecting from the moment it starts dialing through
// the "subscribed" confirmation.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)
