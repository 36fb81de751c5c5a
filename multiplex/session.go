package multiplex

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// A Session multiplexes many independent ordered byte-streams over one
// underlying duplex transport. It owns the stream registry and two
// background loops: a receive loop decoding frames off the transport and
// dispatching them by command, and a send loop draining the shared outgoing
// queue onto the transport. One side of a connection must be the Client and
// the other the Server so that their stream ids never collide.
//
// All methods are safe for concurrent use.
type Session struct {
	config Config

	transport io.ReadWriteCloser
	codec     *codec

	idGen *streamIDGenerator

	// active streams, keyed by stream id. A stream id has at most one entry
	// at any time; absence means the stream is unknown or already torn down.
	streams sync.Map

	// the outgoing frame queue, drained by the send loop. Bounded: this is
	// the session-wide backpressure point for all writers.
	sendCh chan *Frame

	// peer-initiated streams waiting to be accepted
	acceptCh chan *Stream

	// close(die) is the shutdown broadcast observed by both loops and by
	// every suspended caller
	die chan struct{}
	// atomic, guards die from being closed twice
	closed uint32
}

// Client makes a client-side session over the transport and starts its
// background loops. The transport must support one concurrent reader plus
// one concurrent writer. There is no handshake: the session is usable
// immediately, and the zero value of config is a valid configuration.
func Client(transport io.ReadWriteCloser, config Config) *Session {
	return makeSession(transport, config, true)
}

// Server makes a server-side session over the transport. See Client.
func Server(transport io.ReadWriteCloser, config Config) *Session {
	return makeSession(transport, config, false)
}

func makeSession(transport io.ReadWriteCloser, config Config, isClient bool) *Session {
	config.fillDefaults()
	sesh := &Session{
		config:    config,
		transport: transport,
		codec:     makeCodec(transport, config.MaxFrameSize),
		idGen:     makeStreamIDGenerator(isClient),
		sendCh:    make(chan *Frame, config.MaxReceiveBuffer),
		acceptCh:  make(chan *Stream, acceptBacklog),
		die:       make(chan struct{}),
	}
	go sesh.recvLoop()
	go sesh.sendLoop()
	return sesh
}

// OpenStream opens a new stream towards the peer. It may block while the
// outgoing queue is full. An error is terminal for the whole session, not
// just this stream.
func (sesh *Session) OpenStream() (*Stream, error) {
	if sesh.IsClosed() {
		return nil, ErrBrokenSession
	}
	id, err := sesh.idGen.next()
	if err != nil {
		return nil, err
	}
	stream := makeStream(sesh, id)
	sesh.streams.Store(id, stream)
	select {
	case sesh.sendCh <- &Frame{Version: sesh.config.Version, Cmd: cmdSYN, StreamID: id}:
	case <-sesh.die:
		return nil, ErrBrokenSession
	}
	log.Tracef("stream %v opened locally", id)
	return stream, nil
}

// AcceptStream blocks until the peer opens a stream, then returns it. It
// returns io.EOF once the session is closed: the accept sequence has ended,
// there will never be another stream.
func (sesh *Session) AcceptStream() (*Stream, error) {
	if sesh.IsClosed() {
		return nil, io.EOF
	}
	select {
	case stream := <-sesh.acceptCh:
		log.Tracef("stream %v accepted", stream.id)
		return stream, nil
	case <-sesh.die:
		return nil, io.EOF
	}
}

// Close shuts the session down: every blocked OpenStream, AcceptStream and
// stream operation unblocks promptly and every stream reader observes EOF.
// In-flight frames on the outgoing queue are dropped, not flushed. Safe to
// call more than once.
func (sesh *Session) Close() error {
	sesh.closeSession()
	return nil
}

// IsClosed is a non-blocking snapshot of whether the session has been closed
// or either loop has terminated.
func (sesh *Session) IsClosed() bool {
	return atomic.LoadUint32(&sesh.closed) == 1
}

// closeSession flips the closed flag, broadcasts shutdown, closes the
// transport (which unblocks a receive loop stuck in a transport read) and
// sweeps the registry so that every stream reader sees EOF. Called by
// Close and by both loops on exit; only the first call does anything.
func (sesh *Session) closeSession() {
	if !atomic.CompareAndSwapUint32(&sesh.closed, 0, 1) {
		return
	}
	close(sesh.die)
	_ = sesh.transport.Close()
	sesh.streams.Range(func(key, value interface{}) bool {
		_ = value.(*Stream).recvBuf.Close()
		sesh.streams.Delete(key)
		return true
	})
	log.Debug("session closed")
}

func (sesh *Session) recvLoop() {
	defer sesh.closeSession()
	for {
		select {
		case <-sesh.die:
			log.Debug("recv loop shutting down")
			return
		default:
		}
		frame, err := sesh.codec.readFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Debug("transport closed by peer")
			} else {
				log.Errorf("recv loop: %v", err)
			}
			return
		}
		sesh.config.Valve.rxWait(wireLength(&frame))
		sesh.config.Valve.addRx(int64(wireLength(&frame)))

		switch frame.Cmd {
		case cmdSYN:
			sesh.handleSYN(&frame)
		case cmdFIN:
			sesh.handleFIN(&frame)
		case cmdPSH:
			sesh.handlePSH(&frame)
		case cmdUPD:
			// advisory only. The codec has already checked its shape; a
			// future send-window mechanism would hook in here.
			log.Tracef("UPD for stream %v: consumed %v window %v", frame.StreamID, frame.Consumed, frame.Window)
		case cmdNOP:
		}
	}
}

func (sesh *Session) sendLoop() {
	defer sesh.closeSession()
	for {
		select {
		case <-sesh.die:
			log.Debug("send loop shutting down")
			return
		case frame := <-sesh.sendCh:
			sesh.config.Valve.txWait(wireLength(frame))
			if err := sesh.codec.writeFrame(frame); err != nil {
				log.Errorf("send loop: %v", err)
				return
			}
			sesh.config.Valve.addTx(int64(wireLength(frame)))
		}
	}
}

func wireLength(frame *Frame) int {
	if frame.Cmd == cmdUPD {
		return frameHeaderLength + updPayloadLength
	}
	return frameHeaderLength + len(frame.Payload)
}

func (sesh *Session) handleSYN(frame *Frame) {
	if err := sesh.idGen.validatePeerStreamID(frame.StreamID); err != nil {
		log.Warnf("rejecting SYN: %v", err)
		return
	}
	stream := makeStream(sesh, frame.StreamID)
	if _, existing := sesh.streams.LoadOrStore(frame.StreamID, stream); existing {
		log.Warnf("rejecting SYN for stream %v: %v", frame.StreamID, ErrStreamAlreadyExists)
		return
	}
	select {
	case sesh.acceptCh <- stream:
		log.Tracef("stream %v opened by peer", frame.StreamID)
	default:
		// nobody is accepting. Undo the registration so a slow application
		// cannot accumulate peer-initiated streams without bound
		sesh.streams.Delete(frame.StreamID)
		log.Warnf("accept queue full, rejecting stream %v", frame.StreamID)
	}
}

func (sesh *Session) handleFIN(frame *Frame) {
	value, ok := sesh.streams.Load(frame.StreamID)
	if !ok {
		// already torn down on this side
		return
	}
	sesh.streams.Delete(frame.StreamID)
	stream := value.(*Stream)
	atomic.StoreUint32(&stream.readClosed, 1)
	_ = stream.recvBuf.Close()
	log.Tracef("stream %v closed by peer", frame.StreamID)
}

func (sesh *Session) handlePSH(frame *Frame) {
	value, ok := sesh.streams.Load(frame.StreamID)
	if !ok {
		// the frame may address a stream this side has already torn down
		log.Tracef("dropping PSH for unknown stream %v", frame.StreamID)
		return
	}
	if len(frame.Payload) == 0 {
		return
	}
	if _, err := value.(*Stream).recvBuf.Write(frame.Payload); err != nil {
		// the reader is gone; treat as an implicit close
		sesh.streams.Delete(frame.StreamID)
		log.Tracef("stream %v reader gone, deregistered", frame.StreamID)
	}
}
