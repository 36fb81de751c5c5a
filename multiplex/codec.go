package multiplex

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

var u32 = binary.BigEndian.Uint32
var putU32 = binary.BigEndian.PutUint32

// codec adapts the raw byte-stream transport into a sequence of Frames.
// header: [version 1 byte][command 1 byte][stream id 4 bytes][payload length 4 bytes]
// followed by payload length bytes of data. For cmdUPD the payload length is
// always updPayloadLength and carries [consumed 4 bytes][window 4 bytes].
// All integers are big endian.
//
// readFrame is only ever called by the session's receive loop and writeFrame
// only by its send loop, so neither needs locking.
type codec struct {
	maxFrameSize int

	rx *bufio.Reader
	tx io.Writer

	sendBuf []byte
}

func makeCodec(transport io.ReadWriter, maxFrameSize int) *codec {
	return &codec{
		maxFrameSize: maxFrameSize,
		rx:           bufio.NewReader(transport),
		tx:           transport,
		sendBuf:      make([]byte, frameHeaderLength+maxFrameSize),
	}
}

// readFrame blocks until a whole frame has arrived, however many reads that
// takes. Any error it returns is fatal to the session: after a malformed
// header there is no way to tell where the next frame starts, so the decoder
// never attempts to resynchronise.
func (c *codec) readFrame() (frame Frame, err error) {
	var header [frameHeaderLength]byte
	if _, err = io.ReadFull(c.rx, header[:]); err != nil {
		return
	}

	frame.Version = header[0]
	frame.Cmd = header[1]
	frame.StreamID = u32(header[2:6])
	payloadLen := int(u32(header[6:10]))

	if payloadLen > c.maxFrameSize {
		err = fmt.Errorf("%w: payload length %v exceeds limit %v", ErrMalformedFrame, payloadLen, c.maxFrameSize)
		return
	}

	switch frame.Cmd {
	case cmdUPD:
		if payloadLen != updPayloadLength {
			err = fmt.Errorf("%w: UPD with payload length %v", ErrMalformedFrame, payloadLen)
			return
		}
		var upd [updPayloadLength]byte
		if _, err = io.ReadFull(c.rx, upd[:]); err != nil {
			return
		}
		frame.Consumed = u32(upd[0:4])
		frame.Window = u32(upd[4:8])
	case cmdSYN, cmdFIN, cmdPSH, cmdNOP:
		if payloadLen > 0 {
			frame.Payload = make([]byte, payloadLen)
			if _, err = io.ReadFull(c.rx, frame.Payload); err != nil {
				return
			}
		}
	default:
		err = fmt.Errorf("%w: unknown command %v", ErrMalformedFrame, frame.Cmd)
	}
	return
}

// writeFrame serialises the frame into the send buffer and puts it on the
// wire in a single transport write.
func (c *codec) writeFrame(frame *Frame) error {
	payload := frame.Payload
	if frame.Cmd == cmdUPD {
		var upd [updPayloadLength]byte
		putU32(upd[0:4], frame.Consumed)
		putU32(upd[4:8], frame.Window)
		payload = upd[:]
	}
	if len(payload) > c.maxFrameSize {
		return fmt.Errorf("%w: payload length %v exceeds limit %v", ErrMalformedFrame, len(payload), c.maxFrameSize)
	}

	wireLen := frameHeaderLength + len(payload)
	buf := c.sendBuf[:wireLen]
	buf[0] = frame.Version
	buf[1] = frame.Cmd
	putU32(buf[2:6], frame.StreamID)
	putU32(buf[6:10], uint32(len(payload)))
	copy(buf[frameHeaderLength:], payload)

	_, err := c.tx.Write(buf)
	return err
}
