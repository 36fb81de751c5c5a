// Based on https://github.com/golang/go/blob/0436b162397018c45068b47ca1b5924a3eafdee0/src/net/net_fake.go#L173

package multiplex

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// receivePipe is a stream's inbound byte queue: the receive loop writes
// payloads in dispatch order, the stream's Read blocks until data is
// available and yields io.EOF once the pipe is closed and drained.
//
// The buffer is unbounded by protocol design. A peer pushing faster than the
// application reads grows it without limit — bounding it here would block
// the receive loop and stall every other stream on the session. This is a
// known limitation, not a feature.
type receivePipe struct {
	// only alloc when on first Read or Write
	buf *bytes.Buffer

	closed    bool
	rwCond    *sync.Cond
	rDeadline time.Time
}

func makeReceivePipe() *receivePipe {
	return &receivePipe{
		rwCond: sync.NewCond(&sync.Mutex{}),
	}
}

func (p *receivePipe) Read(target []byte) (int, error) {
	p.rwCond.L.Lock()
	defer p.rwCond.L.Unlock()
	if p.buf == nil {
		p.buf = new(bytes.Buffer)
	}
	for {
		if p.closed && p.buf.Len() == 0 {
			return 0, io.EOF
		}
		if !p.rDeadline.IsZero() {
			d := time.Until(p.rDeadline)
			if d <= 0 {
				return 0, ErrTimeout
			}
			time.AfterFunc(d, p.rwCond.Broadcast)
		}
		if p.buf.Len() > 0 {
			break
		}
		p.rwCond.Wait()
	}
	n, err := p.buf.Read(target)
	// err will always be nil because we have already verified that buf.Len() != 0
	p.rwCond.Broadcast()
	return n, err
}

func (p *receivePipe) Write(input []byte) (int, error) {
	p.rwCond.L.Lock()
	defer p.rwCond.L.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	if p.buf == nil {
		p.buf = new(bytes.Buffer)
	}
	n, err := p.buf.Write(input)
	// err will always be nil
	p.rwCond.Broadcast()
	return n, err
}

// Close never blocks. Pending data stays readable; Read returns io.EOF once
// the buffer drains.
func (p *receivePipe) Close() error {
	p.rwCond.L.Lock()
	defer p.rwCond.L.Unlock()
	p.closed = true
	p.rwCond.Broadcast()
	return nil
}

func (p *receivePipe) SetReadDeadline(t time.Time) {
	p.rwCond.L.Lock()
	defer p.rwCond.L.Unlock()
	p.rDeadline = t
	p.rwCond.Broadcast()
}
