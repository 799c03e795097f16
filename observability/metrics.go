// Package observability carries the run-scoped counters and the tracer
// setup for the migration binary. The counter registry is a process-local
// stand-in for a full metrics pipeline: a one-shot run has no scrape
// endpoint, so the final snapshot is emitted as a log line instead.
package observability

import (
	"sort"
	"strings"
	"sync"
)

// Point is one exported counter value.
type Point struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

type counter struct {
	name   string
	labels map[string]string
	value  float64
}

// Registry accumulates labeled counters. Safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	counters map[string]counter
}

// Default is the registry the migration engine reports into.
var Default = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{counters: make(map[string]counter)}
}

// Add increments the named counter by delta. A zero delta is dropped so
// empty pages do not materialize counter series.
func (r *Registry) Add(name string, labels map[string]string, delta float64) {
	if delta == 0 {
		return
	}
	key, copied := counterKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.counters[key]
	if c.name == "" {
		c = counter{name: name, labels: copied}
	}
	c.value += delta
	r.counters[key] = c
}

// Snapshot returns the current counter values ordered by name, then by the
// flattened label set.
func (r *Registry) Snapshot() []Point {
	type keyed struct {
		key   string
		point Point
	}
	r.mu.Lock()
	tmp := make([]keyed, 0, len(r.counters))
	for key, c := range r.counters {
		tmp = append(tmp, keyed{key: key, point: Point{Name: c.name, Labels: cloneLabels(c.labels), Value: c.value}})
	}
	r.mu.Unlock()
	sort.Slice(tmp, func(i, j int) bool { return tmp[i].key < tmp[j].key })
	out := make([]Point, 0, len(tmp))
	for _, k := range tmp {
		out = append(out, k.point)
	}
	return out
}

// Reset clears all counters.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = make(map[string]counter)
}

func counterKey(name string, labels map[string]string) (string, map[string]string) {
	if len(labels) == 0 {
		return name, nil
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys)+1)
	parts = append(parts, name)
	copied := make(map[string]string, len(labels))
	for _, k := range keys {
		copied[k] = labels[k]
		parts = append(parts, k+"="+labels[k])
	}
	return strings.Join(parts, "|"), copied
}

func cloneLabels(labels map[string]string) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
