package metrics

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessHealth is a snapshot of this process's own resource usage,
// surfaced alongside the pipeline counters on the health endpoint.
type ProcessHealth struct {
	Status        string  `json:"status"`
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryMB      float64 `json:"memory_mb"`
	MemoryPercent float64 `json:"memory_percent"`
}

// ProcessReporter caches ProcessHealth for cacheDuration so a busy health
// endpoint doesn't pay gopsutil's syscall cost on every request.
type ProcessReporter struct {
	startTime     time.Time
	cacheDuration time.Duration

	mu          sync.Mutex
	cached      *ProcessHealth
	cacheExpiry time.Time
}

// NewProcessReporter creates a ProcessReporter caching results for 30s.
func NewProcessReporter() *ProcessReporter {
	return &ProcessReporter{startTime: time.Now(), cacheDuration: 30 * time.Second}
}

// Health returns the current process health, using the cache when fresh.
func (r *ProcessReporter) Health() ProcessHealth {
	r.mu.Lock()
	if r.cached != nil && time.Now().Before(r.cacheExpiry) {
		h := *r.cached
		r.mu.Unlock()
		return h
	}
	r.mu.Unlock()

	h := r.collect()

	r.mu.Lock()
	r.cached = &h
	r.cacheExpiry = time.Now().Add(r.cacheDuration)
	r.mu.Unlock()
	return h
}

func (r *ProcessReporter) collect() ProcessHealth {
	h := ProcessHealth{
		Status:        "healthy",
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(r.startTime).Seconds()),
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		if cpu, err := proc.CPUPercent(); err == nil {
			h.CPUPercent = cpu
		}
		if mem, err := proc.MemoryInfo(); err == nil {
			h.MemoryMB = float64(mem.RSS) / (1024 * 1024)
		}
		if memPct, err := proc.MemoryPercent(); err == nil {
			h.MemoryPercent = float64(memPct)
		}
	}

	if h.MemoryPercent > 90 || h.CPUPercent > 90 {
		h.Status = "degraded"
	}
	return h
}
