package service

import (
	"fmt"
	"math"

	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"
	"github.com/berfenger/aggbatt2mqtt/internal/core/port"
)

// sourceReader reads typed values of one bus source. The first missing
// required value is kept in err and every later read is skipped.
type sourceReader struct {
	cache   port.ReadCache
	battery string
	source  string
	step    string
	err     error
}

func newSourceReader(cache port.ReadCache, battery, source string) *sourceReader {
	return &sourceReader{
		cache:   cache,
		battery: battery,
		source:  source,
	}
}

func (r *sourceReader) fail(path string) {
	if r.err == nil {
		r.err = domain.ReadError{Step: r.step, Battery: r.battery, Path: path}
	}
}

func (r *sourceReader) optionalFloat(path string) *float64 {
	if r.err != nil {
		return nil
	}
	v, ok := r.cache.Get(r.source, path)
	if !ok {
		return nil
	}
	f, ok := domain.AsFloat(v)
	if !ok || math.IsNaN(f) {
		return nil
	}
	return &f
}

func (r *sourceReader) float(path string) float64 {
	if r.err != nil {
		return 0
	}
	f := r.optionalFloat(path)
	if f == nil {
		r.fail(path)
		return 0
	}
	return *f
}

func (r *sourceReader) integer(path string) int {
	return int(math.Round(r.float(path)))
}

func (r *sourceReader) optionalInt(path string) *int {
	f := r.optionalFloat(path)
	if f == nil {
		return nil
	}
	i := int(math.Round(*f))
	return &i
}

func (r *sourceReader) text(path string) string {
	if r.err != nil {
		return ""
	}
	v, ok := r.cache.Get(r.source, path)
	if !ok {
		r.fail(path)
		return ""
	}
	s, ok := domain.AsString(v)
	if !ok {
		r.fail(path)
		return ""
	}
	return s
}

func (r *sourceReader) optionalText(path string) string {
	if r.err != nil {
		return ""
	}
	v, ok := r.cache.Get(r.source, path)
	if !ok {
		return ""
	}
	s, _ := domain.AsString(v)
	return s
}

func cellPath(i int) string {
	return fmt.Sprintf("/Voltages/Cell%d", i+1)
}
