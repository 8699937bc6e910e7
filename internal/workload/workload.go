// Package workload provides the named job bodies used by the demo and the HTTP API.
package workload

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var ErrUnknownKind = errors.New("unknown workload kind")

// Kinds of job body.
const (
	KindNoop  = "noop"
	KindSleep = "sleep"
	KindSpin  = "spin"
	KindPanic = "panic"
)

var builders = map[string]func(time.Duration) func(){
	KindNoop: func(time.Duration) func() {
		return func() {}
	},
	KindSleep: func(d time.Duration) func() {
		return func() { time.Sleep(d) }
	},
	// spin burns CPU until d has elapsed.
	KindSpin: func(d time.Duration) func() {
		return func() {
			deadline := time.Now().Add(d)
			x := uint64(1)
			for time.Now().Before(deadline) {
				for i := 0; i < 1000; i++ {
					x = x*6364136223846793005 + 1442695040888963407
				}
			}
			_ = x
		}
	},
	KindPanic: func(time.Duration) func() {
		return func() { panic("workload: deliberate panic") }
	},
}

// New returns a job body of the given kind. d is ignored by kinds without a
// duration.
func New(kind string, d time.Duration) (func(), error) {
	build, ok := builders[strings.ToLower(strings.TrimSpace(kind))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownKind, kind, strings.Join(Kinds(), ", "))
	}
	if d < 0 {
		return nil, fmt.Errorf("duration must not be negative: %s", d)
	}
	return build(d), nil
}

// Kinds lists the known workload kinds in sorted order.
func Kinds() []string {
	out := make([]string, 0, len(builders))
	for k := range builders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
