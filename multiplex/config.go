package multiplex

const (
	defaultVersion          = 1
	defaultMaxReceiveBuffer = 1024
	defaultMaxFrameSize     = 32 * 1024

	// capacity of the accept queue for peer-initiated streams. Kept small on
	// purpose: a SYN that cannot be queued is rejected, so an application
	// that never accepts cannot accumulate streams without bound.
	acceptBacklog = 16
)

// Config carries the protocol tunables for a Session. The zero value is
// usable; unset fields are filled with defaults at session construction.
type Config struct {
	// Version is the protocol version tag echoed in every frame this side
	// sends.
	Version byte

	// MaxReceiveBuffer is the capacity, in frames, of the outgoing frame
	// queue. It is the session-wide backpressure point: stream writes and
	// OpenStream's SYN emission block once this many frames are waiting for
	// the send loop.
	MaxReceiveBuffer int

	// MaxFrameSize is the largest payload a single frame may declare.
	// Locally it caps how much data one PSH carries; on receipt a frame
	// declaring more is a fatal decode error.
	MaxFrameSize int

	// Valve rate-limits and meters bytes through the transport. Nil means
	// unlimited.
	Valve *Valve
}

func (config *Config) fillDefaults() {
	if config.Version == 0 {
		config.Version = defaultVersion
	}
	if config.MaxReceiveBuffer <= 0 {
		config.MaxReceiveBuffer = defaultMaxReceiveBuffer
	}
	if config.MaxFrameSize <= 0 {
		config.MaxFrameSize = defaultMaxFrameSize
	}
	if config.Valve == nil {
		config.Valve = UnlimitedValve
	}
}
