package tui

import "strings"

var sparkLevels = []rune("▁▂▃▄▅▆▇█")

// Activity counts events per monitor tick over a sliding window.
type Activity struct {
	buckets []int
	head    int
	total   int
}

func NewActivity(window int) *Activity {
	if window <= 0 {
		window = 30
	}
	return &Activity{buckets: make([]int, window)}
}

// Record counts one event in the current tick.
func (a *Activity) Record() {
	a.buckets[a.head]++
	a.total++
}

// Advance closes the current tick and starts a fresh one.
func (a *Activity) Advance() {
	a.head = (a.head + 1) % len(a.buckets)
	a.total -= a.buckets[a.head]
	a.buckets[a.head] = 0
}

// Rate is the mean events per tick across the window.
func (a *Activity) Rate() float64 {
	return float64(a.total) / float64(len(a.buckets))
}

// Sparkline renders the window oldest to newest, scaled to its peak.
func (a *Activity) Sparkline() string {
	peak := 0
	for _, n := range a.buckets {
		peak = max(peak, n)
	}

	var b strings.Builder
	n := len(a.buckets)
	for i := 1; i <= n; i++ {
		v := a.buckets[(a.head+i)%n]
		if peak == 0 || v == 0 {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(sparkLevels[(v*(len(sparkLevels)-1))/peak])
	}
	return b.String()
}
