package turn

import (
	"fmt"
	"sync/atomic"
)

// Generator hands out turn IDs of the form "<sessionID>-turn-N".
type Generator struct {
	counter uint64
}

func NewGenerator() *Generator {
	return &Generator{}
}

func (g *Generator) Next(sessionID string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-turn-%d", sessionID, n)
}

// Count returns how many IDs were generated.
func (g *Generator) Count() uint64 {
	return atomic.LoadUint64(&g.counter)
}
