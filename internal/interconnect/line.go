package interconnect

import "sync"

// IRQLine is a device interrupt input. SetLevel drives it as a
// level-sensitive source: delivery happens on the rising edge only, so a
// held line interrupts once and must fall before it can interrupt again.
// Pulse is the edge-triggered form; the doorbell path delivers through it.
type IRQLine interface {
	SetLevel(high bool)
	Pulse()
}

// DetachedIRQ returns a line that drops every signal, for endpoints with no
// interrupt consumer.
func DetachedIRQ() IRQLine { return detachedIRQ{} }

type detachedIRQ struct{}

func (detachedIRQ) SetLevel(bool) {}
func (detachedIRQ) Pulse()       {}

// edgeIRQ adapts a pulse sink into a level-tracked line.
type edgeIRQ struct {
	mu   sync.Mutex
	high bool
	sink func()
}

func newEdgeIRQ(sink func()) *edgeIRQ {
	return &edgeIRQ{sink: sink}
}

func (l *edgeIRQ) SetLevel(high bool) {
	l.mu.Lock()
	rising := high && !l.high
	l.high = high
	l.mu.Unlock()
	if rising {
		l.sink()
	}
}

func (l *edgeIRQ) Pulse() {
	l.sink()
}

var (
	_ IRQLine = detachedIRQ{}
	_ IRQLine = (*edgeIRQ)(nil)
)
