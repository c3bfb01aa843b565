package convert

import "context"

// Gate admits one conversion at a time.
type Gate struct {
	slot chan struct{}
}

// NewGate creates an open gate.
func NewGate() *Gate {
	return &Gate{slot: make(chan struct{}, 1)}
}

// TryAcquire takes the slot if it is free. The returned release func must
// be called exactly once.
func (g *Gate) TryAcquire() (release func(), ok bool) {
	select {
	case g.slot <- struct{}{}:
		return g.release, true
	default:
		return nil, false
	}
}

// Acquire waits for the slot or for ctx to be done.
func (g *Gate) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case g.slot <- struct{}{}:
		return g.release, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Busy reports whether a conversion holds the slot.
func (g *Gate) Busy() bool {
	return len(g.slot) == 1
}

func (g *Gate) release() {
	<-g.slot
}
