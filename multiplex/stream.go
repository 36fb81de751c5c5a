package multiplex

import (
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// A Stream is one logical ordered byte-channel multiplexed within a Session.
// Reads pull from the stream's private inbound queue; writes wrap the data
// in PSH frames and put them on the session's shared outgoing queue, so a
// full outgoing queue suspends writers across all streams alike.
type Stream struct {
	id uint32

	session *Session

	// payloads dispatched by the receive loop accumulate here, in arrival
	// order, until the application reads them
	recvBuf *receivePipe

	// atomic, set when the peer sent FIN for this stream
	readClosed uint32

	// atomic, set on local Close
	closed uint32
}

func makeStream(sesh *Session, id uint32) *Stream {
	return &Stream{
		id:      id,
		session: sesh,
		recvBuf: makeReceivePipe(),
	}
}

// ID returns the stream's id. Odd for client-initiated streams, even for
// server-initiated ones.
func (stream *Stream) ID() uint32 { return stream.id }

// Read blocks until payload is available, the peer closes the stream, or the
// session dies; the latter two yield io.EOF once buffered data has been
// drained. Payloads are observed in the exact order the peer wrote them.
func (stream *Stream) Read(buf []byte) (int, error) {
	return stream.recvBuf.Read(buf)
}

// Write queues in for delivery to the peer, splitting it into PSH frames of
// at most MaxFrameSize. It blocks while the session's outgoing queue is
// full. The data is copied before Write returns, so the caller may reuse in.
func (stream *Stream) Write(in []byte) (int, error) {
	if atomic.LoadUint32(&stream.closed) == 1 {
		return 0, ErrBrokenStream
	}
	n := 0
	for n < len(in) {
		end := n + stream.session.config.MaxFrameSize
		if end > len(in) {
			end = len(in)
		}
		payload := make([]byte, end-n)
		copy(payload, in[n:end])
		frame := &Frame{
			Version:  stream.session.config.Version,
			Cmd:      cmdPSH,
			StreamID: stream.id,
			Payload:  payload,
		}
		select {
		case stream.session.sendCh <- frame:
		case <-stream.session.die:
			return n, ErrBrokenSession
		}
		n = end
	}
	return n, nil
}

// Close closes the stream on both ends: it tells the peer with a FIN frame
// (best effort if the session is already dying), deregisters the stream and
// releases its reader with EOF. Closing twice is an error.
func (stream *Stream) Close() error {
	if !atomic.CompareAndSwapUint32(&stream.closed, 0, 1) {
		return errRepeatStreamClosing
	}
	select {
	case stream.session.sendCh <- &Frame{Version: stream.session.config.Version, Cmd: cmdFIN, StreamID: stream.id}:
	case <-stream.session.die:
	}
	stream.session.streams.Delete(stream.id)
	_ = stream.recvBuf.Close()
	log.Tracef("stream %v closed locally", stream.id)
	return nil
}

// SetReadDeadline makes Reads pending at or after t fail with ErrTimeout. A
// zero value means Reads block indefinitely.
func (stream *Stream) SetReadDeadline(t time.Time) error {
	stream.recvBuf.SetReadDeadline(t)
	return nil
}
