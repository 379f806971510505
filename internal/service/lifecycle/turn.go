package lifecycle

import (
	"fmt"
	"sync/atomic"
)

// Generator numbers the assessments produced within a call.
type Generator struct {
	counter uint64
}

func NewGenerator() *Generator {
	return &Generator{}
}

func (g *Generator) Next(callID string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-turn-%d", callID, n)
}
