package logger

import (
	"sort"
	"sync"
	"sync/atomic"
)

type levelCounter struct {
	warns  int64
	errors int64
}

// ComponentCounts is the number of warnings and errors a component logged.
type ComponentCounts struct {
	Component string
	Warns     int64
	Errors    int64
}

var components sync.Map // map[string]*levelCounter

func counterFor(component string) *levelCounter {
	v, _ := components.LoadOrStore(component, &levelCounter{})
	return v.(*levelCounter)
}

func recordWarn(component string) {
	atomic.AddInt64(&counterFor(component).warns, 1)
}

func recordError(component string) {
	atomic.AddInt64(&counterFor(component).errors, 1)
}

// Counts returns warn/error totals per component, sorted by component name.
func Counts() []ComponentCounts {
	var out []ComponentCounts
	components.Range(func(k, v any) bool {
		c := v.(*levelCounter)
		out = append(out, ComponentCounts{
			Component: k.(string),
			Warns:     atomic.LoadInt64(&c.warns),
			Errors:    atomic.LoadInt64(&c.errors),
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Component < out[j].Component })
	return out
}
