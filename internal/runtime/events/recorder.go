package events

import (
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Recorder aggregates a run into counters and latency percentiles.
//
// Latencies are kept in an HDR histogram with microsecond resolution, from
// 1µs up to one hour at 3 significant figures.
type Recorder struct {
	mu sync.Mutex

	started   int64
	counters  map[string]int64
	rates     map[string]int64
	errors    map[string]int64
	matchOK   int64
	matchFail int64
	codes     map[int]int64

	latency *hdrhistogram.Histogram
	first   time.Time
	last    time.Time
}

// LatencyStats summarises recorded response latencies.
type LatencyStats struct {
	Count int64         `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P90   time.Duration `json:"p90"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
}

// ErrorCount is one distinct error message and how often it was seen.
type ErrorCount struct {
	Message string `json:"message"`
	Count   int64  `json:"count"`
}

// Snapshot is a point-in-time copy of a Recorder.
type Snapshot struct {
	VUsStarted  int64            `json:"vusStarted"`
	Counters    map[string]int64 `json:"counters"`
	Rates       map[string]int64 `json:"rates"`
	Errors      []ErrorCount     `json:"errors"`
	MatchesOK   int64            `json:"matchesOk"`
	MatchesFail int64            `json:"matchesFailed"`
	StatusCodes map[int]int64    `json:"statusCodes"`
	Latency     LatencyStats     `json:"latency"`
	Elapsed     time.Duration    `json:"elapsed"`
	CollectedAt time.Time        `json:"collectedAt"`
}

func NewRecorder() *Recorder {
	return &Recorder{
		counters: make(map[string]int64),
		rates:    make(map[string]int64),
		errors:   make(map[string]int64),
		codes:    make(map[int]int64),
		latency:  hdrhistogram.New(1, int64(time.Hour/time.Microsecond), 3),
	}
}

func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.first.IsZero() {
		r.first = ev.Time
	}
	if ev.Time.After(r.last) {
		r.last = ev.Time
	}

	switch ev.Kind {
	case KindStarted:
		r.started++
	case KindCounter:
		r.counters[ev.Name] += ev.Delta
	case KindRate:
		r.rates[ev.Name]++
	case KindError:
		r.errors[ev.Message]++
	case KindMatch:
		if ev.Success {
			r.matchOK++
		} else {
			r.matchFail++
		}
	case KindResponse:
		r.codes[ev.StatusCode]++
		micros := ev.Latency.Microseconds()
		if micros < 1 {
			micros = 1
		}
		// out of range values count as the highest trackable value
		if err := r.latency.RecordValue(micros); err != nil {
			_ = r.latency.RecordValue(r.latency.HighestTrackableValue())
		}
	}
}

// Snapshot copies the current aggregates.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		VUsStarted:  r.started,
		Counters:    make(map[string]int64, len(r.counters)),
		Rates:       make(map[string]int64, len(r.rates)),
		MatchesOK:   r.matchOK,
		MatchesFail: r.matchFail,
		StatusCodes: make(map[int]int64, len(r.codes)),
		CollectedAt: time.Now(),
	}
	for k, v := range r.counters {
		snap.Counters[k] = v
	}
	for k, v := range r.rates {
		snap.Rates[k] = v
	}
	for k, v := range r.codes {
		snap.StatusCodes[k] = v
	}
	for msg, n := range r.errors {
		snap.Errors = append(snap.Errors, ErrorCount{Message: msg, Count: n})
	}
	sort.Slice(snap.Errors, func(i, j int) bool {
		if snap.Errors[i].Count != snap.Errors[j].Count {
			return snap.Errors[i].Count > snap.Errors[j].Count
		}
		return snap.Errors[i].Message < snap.Errors[j].Message
	})
	if !r.first.IsZero() {
		snap.Elapsed = r.last.Sub(r.first)
	}

	h := r.latency
	snap.Latency = LatencyStats{Count: h.TotalCount()}
	if h.TotalCount() > 0 {
		us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
		snap.Latency.Min = us(h.Min())
		snap.Latency.Max = us(h.Max())
		snap.Latency.Mean = time.Duration(h.Mean() * float64(time.Microsecond))
		snap.Latency.P50 = us(h.ValueAtQuantile(50))
		snap.Latency.P90 = us(h.ValueAtQuantile(90))
		snap.Latency.P95 = us(h.ValueAtQuantile(95))
		snap.Latency.P99 = us(h.ValueAtQuantile(99))
	}
	return snap
}
