package pm

import "github.com/quantfloor/engine/internal/signals"

// PlanKind separates entries, which pass the full gate stack, from forced
// exits, which bypass entry-side checks and execute first.
type PlanKind int

const (
	KindEntry PlanKind = iota
	KindExit
)

func (k PlanKind) String() string {
	if k == KindExit {
		return "exit"
	}
	return "entry"
}

// Plan is one intended order.
type Plan struct {
	Symbol      string
	Side        string // BUY | SELL
	Kind        PlanKind
	Score       float64
	TargetValue float64 // dollars; exits instead carry Quantity
	Quantity    int64   // set for exits (full position)
	Reason      string  // exit reason or sizing note

	Components       signals.Components
	MemoryInfluenced bool
}

// IsExit reports whether this plan bypasses entry gates.
func (p Plan) IsExit() bool { return p.Kind == KindExit }
