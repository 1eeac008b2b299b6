package port

// ReadCache gives synchronous access to the latest values seen on the bus.
// Get never blocks; a missing or stale value is reported as not ok.
type ReadCache interface {
	Get(source, path string) (any, bool)
	Set(source, path string, value any) error
}
