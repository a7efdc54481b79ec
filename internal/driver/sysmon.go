package driver

import (
	"context"
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/procfs"

	"github.com/nerrad567/roomlink/internal/room"
)

// KindSystemMonitor reports controller health figures.
const KindSystemMonitor = "system_monitor"

const defaultSysmonInterval = 5 * time.Second

// SystemMonitorParams configures a system monitor.
type SystemMonitorParams struct {
	Interval time.Duration `mapstructure:"interval"`
	ProcRoot string        `mapstructure:"proc_root"`
}

// hostStats is what the monitor reads from the host kernel.
type hostStats struct {
	Load1, Load5, Load15 float64
	Boot                 time.Time
	ProcessStart         time.Time
	MemAvailableMB       float64
}

type hostReader func() (hostStats, error)

// SystemMonitor publishes runtime and host figures with SetValueSilent:
// they change every sample and are read by polling, not by event.
type SystemMonitor struct {
	*room.Object
	interval  time.Duration
	read      hostReader
	addresses func() []string
	logger    Logger
	started   time.Time
	readErr   bool
}

// NewSystemMonitor builds a monitor reading host figures from procfs.
func NewSystemMonitor(env Env, name string, params map[string]any) (Driver, error) {
	p := SystemMonitorParams{Interval: defaultSysmonInterval, ProcRoot: procfs.DefaultMountPoint}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Interval <= 0 {
		p.Interval = defaultSysmonInterval
	}

	var read hostReader
	fs, err := procfs.NewFS(p.ProcRoot)
	if err != nil {
		env.logger().Warn("procfs unavailable, host figures disabled", "error", err)
	} else {
		read = procReader(fs)
	}
	return newSystemMonitor(env, name, p.Interval, read), nil
}

func newSystemMonitor(env Env, name string, interval time.Duration, read hostReader) *SystemMonitor {
	m := &SystemMonitor{
		Object:    room.NewObject(name, KindSystemMonitor),
		interval:  interval,
		read:      read,
		addresses: env.Addresses,
		logger:    env.logger(),
		started:   time.Now(),
	}
	m.SetHealth(room.Health{Online: true})
	return m
}

func procReader(fs procfs.FS) hostReader {
	return func() (hostStats, error) {
		var s hostStats
		load, err := fs.LoadAvg()
		if err != nil {
			return s, err
		}
		s.Load1, s.Load5, s.Load15 = load.Load1, load.Load5, load.Load15

		stat, err := fs.Stat()
		if err != nil {
			return s, err
		}
		s.Boot = time.Unix(int64(stat.BootTime), 0)

		if self, err := fs.Self(); err == nil {
			if ps, err := self.Stat(); err == nil {
				if start, err := ps.StartTime(); err == nil {
					s.ProcessStart = time.Unix(0, int64(start*float64(time.Second)))
				}
			}
		}
		if mem, err := fs.Meminfo(); err == nil && mem.MemAvailable != nil {
			s.MemAvailableMB = round2(float64(*mem.MemAvailable) / 1024)
		}
		return s, nil
	}
}

func (m *SystemMonitor) Devices() []room.Device { return []room.Device{m} }

// Run samples immediately and then every interval.
func (m *SystemMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.sample(time.Now())
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (m *SystemMonitor) sample(now time.Time) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	_ = m.SetValueSilent("goroutines", runtime.NumGoroutine())
	_ = m.SetValueSilent("heap_mb", round2(float64(mem.HeapAlloc)/(1<<20)))

	if m.addresses != nil {
		_ = m.SetValueSilent("address", strings.Join(m.addresses(), ","))
	}

	started := m.started
	if m.read != nil {
		s, err := m.read()
		switch {
		case err != nil:
			if !m.readErr {
				m.logger.Warn("reading host stats failed", "monitor", m.Name(), "error", err)
			}
			m.readErr = true
		default:
			m.readErr = false
			_ = m.SetValueSilent("load_1m", s.Load1)
			_ = m.SetValueSilent("load_5m", s.Load5)
			_ = m.SetValueSilent("load_15m", s.Load15)
			if !s.Boot.IsZero() {
				_ = m.SetValueSilent("uptime_system", now.Sub(s.Boot).Round(time.Second).Seconds())
			}
			if s.MemAvailableMB > 0 {
				_ = m.SetValueSilent("mem_available_mb", s.MemAvailableMB)
			}
			if !s.ProcessStart.IsZero() {
				started = s.ProcessStart
			}
		}
	}
	_ = m.SetValueSilent("uptime_controller", now.Sub(started).Round(time.Second).Seconds())
}

func (m *SystemMonitor) Close() error { return nil }
