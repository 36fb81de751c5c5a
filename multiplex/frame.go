package multiplex

const (
	cmdSYN byte = iota // peer wants to open a stream
	cmdFIN             // peer has closed a stream
	cmdPSH             // stream payload
	cmdUPD             // flow control update, advisory only
	cmdNOP             // keep-alive
)

const (
	frameHeaderLength = 10 // version + command + stream id + payload length
	updPayloadLength  = 8  // consumed + window
)

// A Frame is one protocol message: a fixed header addressing a stream,
// followed by that stream's payload bytes. Consumed and Window are only
// meaningful when Cmd is cmdUPD, in which case Payload is nil.
type Frame struct {
	Version  byte
	Cmd      byte
	StreamID uint32
	Payload  []byte

	Consumed uint32
	Window   uint32
}
