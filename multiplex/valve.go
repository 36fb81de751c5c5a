package multiplex

import (
	"sync/atomic"

	"github.com/juju/ratelimit"
)

// Valve rate-limits and meters the bytes a session moves through its
// transport. One Valve may be shared between sessions to enforce an
// aggregate limit. Directions are always named from the local side: rx is
// bytes read off the transport, tx is bytes written to it.
type Valve struct {
	rxtb atomic.Value // *ratelimit.Bucket
	txtb atomic.Value // *ratelimit.Bucket

	rx int64
	tx int64
}

// MakeValve makes a Valve allowing rxRate and txRate bytes per second in
// each direction.
func MakeValve(rxRate, txRate int64) *Valve {
	v := &Valve{}
	v.SetRxRate(rxRate)
	v.SetTxRate(txRate)
	return v
}

// UnlimitedValve never blocks. It still counts.
var UnlimitedValve = MakeValve(1<<63-1, 1<<63-1)

func (v *Valve) SetRxRate(rate int64) { v.rxtb.Store(ratelimit.NewBucketWithRate(float64(rate), rate)) }
func (v *Valve) SetTxRate(rate int64) { v.txtb.Store(ratelimit.NewBucketWithRate(float64(rate), rate)) }

func (v *Valve) rxWait(n int) { v.rxtb.Load().(*ratelimit.Bucket).Wait(int64(n)) }
func (v *Valve) txWait(n int) { v.txtb.Load().(*ratelimit.Bucket).Wait(int64(n)) }

func (v *Valve) addRx(n int64) { atomic.AddInt64(&v.rx, n) }
func (v *Valve) addTx(n int64) { atomic.AddInt64(&v.tx, n) }

// GetRx returns the total bytes received through this Valve.
func (v *Valve) GetRx() int64 { return atomic.LoadInt64(&v.rx) }

// GetTx returns the total bytes sent through this Valve.
func (v *Valve) GetTx() int64 { return atomic.LoadInt64(&v.tx) }

// Nullify resets both counters and returns the totals up to that point.
func (v *Valve) Nullify() (int64, int64) {
	rx := atomic.SwapInt64(&v.rx, 0)
	tx := atomic.SwapInt64(&v.tx, 0)
	return rx, tx
}
