package engine

import (
	"log/slog"

	"github.com/roach88/keyrx/internal/ir"
)

// DefaultOutputCapacity is the initial capacity of the reused output buffer.
const DefaultOutputCapacity = 64

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the structured logger.
//
// Default: slog.Default()
// The processor logs only rare conditions (malformed records, overflow,
// reentrancy), never once per event.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithInterruptOnRelease makes releases of other keys count as interrupts
// for pending tap/hold sessions.
//
// Default: false (only presses interrupt).
// When true, a release resolves resolve-on-interrupt sessions to Hold and is
// buffered behind timeout-only sessions like a press would be.
func WithInterruptOnRelease(enabled bool) Option {
	return func(p *Processor) {
		p.interruptOnRelease = enabled
	}
}

// WithOutputCapacity sets the initial capacity of the output buffer returned
// by ProcessEvent and Tick. Use a larger value for profiles with long macros
// so the buffer never has to grow.
func WithOutputCapacity(n int) Option {
	return func(p *Processor) {
		p.out = make([]ir.OutputEvent, 0, n)
	}
}
