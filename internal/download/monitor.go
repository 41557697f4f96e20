package download

import (
	"time"
)

// monitor refreshes the throughput of every active download once per
// interval. It exits when no download is active and is restarted by the next
// transfer that attaches.
func (m *Manager) monitor() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			m.stopMonitoring()

			return
		case <-ticker.C:
		}

		keys, ok := m.monitoredKeys()
		if !ok {
			return
		}

		m.tick(keys, time.Since(m.epoch).Seconds())
	}
}

// monitoredKeys snapshots the active keys, or marks the monitor stopped when
// there are none.
func (m *Manager) monitoredKeys() ([]Key, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.active) == 0 {
		m.monitoring = false

		return nil, false
	}

	keys := make([]Key, 0, len(m.active))
	for key := range m.active {
		keys = append(keys, key)
	}

	return keys, true
}

func (m *Manager) tick(keys []Key, now float64) {
	for _, key := range keys {
		// Downloads may finish while the tick runs, so membership is checked per key.
		m.mu.Lock()
		rec, ok := m.active[key]
		m.mu.Unlock()

		if !ok {
			continue
		}

		rec.sample(now)
	}
}

func (m *Manager) stopMonitoring() {
	m.mu.Lock()
	m.monitoring = false
	m.mu.Unlock()
}

// Monitoring reports whether the progress monitor is running.
func (m *Manager) Monitoring() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.monitoring
}
