package domain

type BalancingPhase int

const (
	BalancingInactive BalancingPhase = iota
	BalancingPending
	BalancingGoalReached
)

func (p BalancingPhase) String() string {
	switch p {
	case BalancingInactive:
		return "inactive"
	case BalancingPending:
		return "pending"
	case BalancingGoalReached:
		return "goal_reached"
	default:
		return "unknown"
	}
}

// EngineState is owned by the tick. OwnCharge and LastBalancingDay survive
// restarts through the persistence port.
type EngineState struct {
	OwnCharge         float64
	LastBalancingDay  int
	BalancingPhase    BalancingPhase
	DynamicCVLActive  bool
	PVFeedInSuspended bool
	FullyDischarged   bool
	LastLimits        ControlOutput
	ReadFailures      int
	MultiConnected    bool
}
