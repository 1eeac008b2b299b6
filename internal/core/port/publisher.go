package port

import "github.com/berfenger/aggbatt2mqtt/internal/core/domain"

// Publisher receives the output of every successful tick. Implementations
// must publish all fields or none.
type Publisher interface {
	Publish(result domain.TickResult) error
}
