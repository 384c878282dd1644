package downloader

import "sync/atomic"

// point-in-time counters for one download batch
type Stats struct {
	Successful int64 `json:"successful"`
	Failed     int64 `json:"failed"`
	Total      int64 `json:"total"`
}

type counters struct {
	successful atomic.Int64
	failed     atomic.Int64
	total      atomic.Int64
}

func (c *counters) reset(total int64) {
	c.successful.Store(0)
	c.failed.Store(0)
	c.total.Store(total)
}

// safe to call while a batch is running
func (m *Manager) Stats() Stats {
	return Stats{
		Successful: m.stats.successful.Load(),
		Failed:     m.stats.failed.Load(),
		Total:      m.stats.total.Load(),
	}
}
