package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessMetrics is one resource sample of a server child.
type ProcessMetrics struct {
	PID        int32     `json:"pid"`
	Instance   string    `json:"instance"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// SamplerConfig configures periodic resource sampling.
type SamplerConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	MaxHistory int           `mapstructure:"max_history"`
}

type sampleRing struct {
	buf   []ProcessMetrics
	start int
	count int
}

func (r *sampleRing) add(m ProcessMetrics) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = m
		r.count++
		return
	}
	r.buf[r.start] = m
	r.start = (r.start + 1) % len(r.buf)
}

func (r *sampleRing) slice() []ProcessMetrics {
	out := make([]ProcessMetrics, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}

// Sampler polls CPU and memory of running server children with gopsutil
// and exports them as gauges labelled by instance name.
type Sampler struct {
	enabled    bool
	interval   time.Duration
	maxHistory int

	mu      sync.RWMutex
	pids    map[string]int32
	history map[string]*sampleRing

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

func NewSampler(cfg SamplerConfig) *Sampler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	maxHistory := cfg.MaxHistory
	if maxHistory <= 0 {
		maxHistory = 100
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mineguard",
			Subsystem: "process",
			Name:      name,
			Help:      help,
		}, []string{"instance"})
	}
	return &Sampler{
		enabled:    cfg.Enabled,
		interval:   interval,
		maxHistory: maxHistory,
		pids:       make(map[string]int32),
		history:    make(map[string]*sampleRing),
		stopCh:     make(chan struct{}),
		cpuPercent: gauge("cpu_percent", "CPU usage percentage of the server child."),
		memoryMB:   gauge("memory_mb", "Resident memory of the server child in MB."),
		numThreads: gauge("num_threads", "Number of threads of the server child."),
		numFDs:     gauge("num_fds", "Open file descriptors of the server child (Unix only)."),
	}
}

// Enabled reports whether sampling is configured on.
func (s *Sampler) Enabled() bool { return s.enabled }

// RegisterMetrics registers the sampler gauges with r.
func (s *Sampler) RegisterMetrics(r prometheus.Registerer) error {
	if !s.enabled {
		return nil
	}
	collectors := []prometheus.Collector{s.cpuPercent, s.memoryMB, s.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, s.numFDs)
	}
	for _, c := range collectors {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Track adds or replaces the PID sampled for instance.
func (s *Sampler) Track(instance string, pid int32) {
	s.mu.Lock()
	s.pids[instance] = pid
	s.mu.Unlock()
}

// Untrack stops sampling instance and drops its gauges and history.
func (s *Sampler) Untrack(instance string) {
	s.mu.Lock()
	delete(s.pids, instance)
	delete(s.history, instance)
	s.mu.Unlock()
	s.cpuPercent.DeleteLabelValues(instance)
	s.memoryMB.DeleteLabelValues(instance)
	s.numThreads.DeleteLabelValues(instance)
	s.numFDs.DeleteLabelValues(instance)
}

// Start polls tracked PIDs every interval until ctx is done or Stop is called.
func (s *Sampler) Start(ctx context.Context) {
	if !s.enabled {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Collect()
			}
		}
	}()
}

// Stop ends the polling goroutine and waits for it.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Collect samples every tracked PID once.
func (s *Sampler) Collect() {
	s.mu.RLock()
	pids := make(map[string]int32, len(s.pids))
	for k, v := range s.pids {
		pids[k] = v
	}
	s.mu.RUnlock()

	now := time.Now()
	for name, pid := range pids {
		if pid <= 0 {
			continue
		}
		m, err := sample(name, pid, now)
		if err != nil {
			slog.Debug("process sample failed", "instance", name, "pid", pid, "error", err)
			continue
		}
		s.cpuPercent.WithLabelValues(name).Set(m.CPUPercent)
		s.memoryMB.WithLabelValues(name).Set(m.MemoryMB)
		s.numThreads.WithLabelValues(name).Set(float64(m.NumThreads))
		if runtime.GOOS != "windows" && m.NumFDs > 0 {
			s.numFDs.WithLabelValues(name).Set(float64(m.NumFDs))
		}

		s.mu.Lock()
		if _, tracked := s.pids[name]; tracked {
			ring, ok := s.history[name]
			if !ok {
				ring = &sampleRing{buf: make([]ProcessMetrics, s.maxHistory)}
				s.history[name] = ring
			}
			ring.add(m)
		}
		s.mu.Unlock()
	}
}

// History returns the retained samples for instance, oldest first.
func (s *Sampler) History(instance string) []ProcessMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ring, ok := s.history[instance]
	if !ok {
		return nil
	}
	return ring.slice()
}

// Latest returns the newest sample for instance.
func (s *Sampler) Latest(instance string) (ProcessMetrics, bool) {
	h := s.History(instance)
	if len(h) == 0 {
		return ProcessMetrics{}, false
	}
	return h[len(h)-1], true
}

func sample(name string, pid int32, ts time.Time) (ProcessMetrics, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return ProcessMetrics{}, fmt.Errorf("failed to create process handle: %w", err)
	}
	cpu, err := proc.CPUPercent()
	if err != nil {
		cpu = 0
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return ProcessMetrics{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	threads, err := proc.NumThreads()
	if err != nil {
		threads = 0
	}
	m := ProcessMetrics{
		PID:        pid,
		Instance:   name,
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		MemoryRSS:  mem.RSS,
		MemoryVMS:  mem.VMS,
		NumThreads: threads,
		Timestamp:  ts,
	}
	if runtime.GOOS != "windows" {
		if fds, err := proc.NumFDs(); err == nil {
			m.NumFDs = fds
		}
	}
	return m, nil
}
