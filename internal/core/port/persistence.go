package port

// Persistence stores the two engine values that survive restarts.
// Load methods return domain.ErrNotStored when nothing was saved yet.
type Persistence interface {
	LoadCharge() (float64, error)
	SaveCharge(charge float64) error
	LoadLastBalancingDay() (int, error)
	SaveLastBalancingDay(day int) error
}
