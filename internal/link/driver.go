package link

// SentFunc reports the link-level outcome of one accepted send.
type SentFunc func(mac MAC, ok bool)

// RecvFunc delivers one received datagram. data is owned by the callee.
type RecvFunc func(mac MAC, data []byte)

// Driver is the connectionless radio underneath Link. Every accepted Send
// is answered by exactly one SentFunc call, and per destination those calls
// arrive in submission order. Callbacks run on the driver's own goroutine.
type Driver interface {
	Init(onSent SentFunc, onRecv RecvFunc) error
	AddPeer(mac MAC, channel uint8) error
	DelPeer(mac MAC) error
	SetChannel(channel uint8) error
	Send(mac MAC, data []byte) error
	LocalMAC() MAC
	Close() error
}
