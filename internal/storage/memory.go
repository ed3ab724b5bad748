package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/cptspacemanspiff/activity-tracker/internal/collector"
)

// Memory is an in-memory Store with the same ordering and range semantics
// as DB. It is safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]collector.Session
	samples  map[string]collector.BatterySample
	events   map[string]collector.DeviceEvent
	reports  map[string]collector.AnalysisReport

	// Err, when set, is returned by every write.
	Err error
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]collector.Session),
		samples:  make(map[string]collector.BatterySample),
		events:   make(map[string]collector.DeviceEvent),
		reports:  make(map[string]collector.AnalysisReport),
	}
}

func (m *Memory) InsertSession(ctx context.Context, s collector.Session) error {
	return m.InsertSessions(ctx, []collector.Session{s})
}

func (m *Memory) InsertSessions(ctx context.Context, sessions []collector.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, s := range sessions {
		m.sessions[s.ID] = s
	}
	return nil
}

func (m *Memory) SessionByID(ctx context.Context, id string) (*collector.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) SessionsInRange(ctx context.Context, from, to int64) ([]collector.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []collector.Session
	for _, s := range m.sessions {
		if s.StartTimestamp >= from && s.EndTimestamp <= to {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTimestamp != out[j].StartTimestamp {
			return out[i].StartTimestamp < out[j].StartTimestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) AllSessions(ctx context.Context) ([]collector.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]collector.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTimestamp != out[j].StartTimestamp {
			return out[i].StartTimestamp > out[j].StartTimestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *Memory) DeleteSessionsOlderThan(ctx context.Context, before int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return deleteWhere(m.sessions, func(s collector.Session) bool { return s.EndTimestamp < before }), nil
}

func (m *Memory) InsertBatterySample(ctx context.Context, s collector.BatterySample) error {
	return m.InsertBatterySamples(ctx, []collector.BatterySample{s})
}

func (m *Memory) InsertBatterySamples(ctx context.Context, samples []collector.BatterySample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, s := range samples {
		m.samples[s.ID] = s
	}
	return nil
}

func (m *Memory) BatterySamplesInRange(ctx context.Context, from, to int64) ([]collector.BatterySample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []collector.BatterySample
	for _, s := range m.samples {
		if s.Timestamp >= from && s.Timestamp < to {
			out = append(out, s)
		}
	}
	sortSamplesNewestFirst(out)
	return out, nil
}

func (m *Memory) LatestBatterySample(ctx context.Context) (*collector.BatterySample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]collector.BatterySample, 0, len(m.samples))
	for _, s := range m.samples {
		all = append(all, s)
	}
	if len(all) == 0 {
		return nil, nil
	}
	sortSamplesNewestFirst(all)
	return &all[0], nil
}

func (m *Memory) AverageBatteryLevel(ctx context.Context, from, to int64) (*float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum, n float64
	for _, s := range m.samples {
		if s.Timestamp >= from && s.Timestamp < to && s.LevelPercent >= 0 {
			sum += float64(s.LevelPercent)
			n++
		}
	}
	if n == 0 {
		return nil, nil
	}
	avg := sum / n
	return &avg, nil
}

func (m *Memory) DeleteBatterySamplesOlderThan(ctx context.Context, before int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return deleteWhere(m.samples, func(s collector.BatterySample) bool { return s.Timestamp < before }), nil
}

func (m *Memory) InsertDeviceEvent(ctx context.Context, e collector.DeviceEvent) error {
	return m.InsertDeviceEvents(ctx, []collector.DeviceEvent{e})
}

func (m *Memory) InsertDeviceEvents(ctx context.Context, events []collector.DeviceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, e := range events {
		m.events[e.ID] = e
	}
	return nil
}

func (m *Memory) DeviceEventsInRange(ctx context.Context, from, to int64) ([]collector.DeviceEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []collector.DeviceEvent
	for _, e := range m.events {
		if e.Timestamp >= from && e.Timestamp < to {
			out = append(out, e)
		}
	}
	sortEventsNewestFirst(out)
	return out, nil
}

func (m *Memory) DeviceEventsByType(ctx context.Context, typ string) ([]collector.DeviceEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []collector.DeviceEvent
	for _, e := range m.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	sortEventsNewestFirst(out)
	return out, nil
}

func (m *Memory) DeleteDeviceEventsOlderThan(ctx context.Context, before int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return deleteWhere(m.events, func(e collector.DeviceEvent) bool { return e.Timestamp < before }), nil
}

func (m *Memory) InsertReport(ctx context.Context, r collector.AnalysisReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.reports[r.ID] = r
	return nil
}

func (m *Memory) LatestReport(ctx context.Context) (*collector.AnalysisReport, error) {
	all := m.filterReports(func(collector.AnalysisReport) bool { return true })
	if len(all) == 0 {
		return nil, nil
	}
	return &all[0], nil
}

func (m *Memory) ReportsByType(ctx context.Context, reportType string, limit int) ([]collector.AnalysisReport, error) {
	out := m.filterReports(func(r collector.AnalysisReport) bool { return r.ReportType == reportType })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ReportsSince(ctx context.Context, ts int64) ([]collector.AnalysisReport, error) {
	return m.filterReports(func(r collector.AnalysisReport) bool { return r.RangeStartTs >= ts }), nil
}

func (m *Memory) filterReports(keep func(collector.AnalysisReport) bool) []collector.AnalysisReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []collector.AnalysisReport
	for _, r := range m.reports {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedTs != out[j].CreatedTs {
			return out[i].CreatedTs > out[j].CreatedTs
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (m *Memory) DeleteReport(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reports, id)
	return nil
}

func (m *Memory) DeleteReportsOlderThan(ctx context.Context, before int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return deleteWhere(m.reports, func(r collector.AnalysisReport) bool { return r.CreatedTs < before }), nil
}

func (m *Memory) DeleteOlderThan(ctx context.Context, before int64) (int64, error) {
	var total int64
	for _, del := range []func(context.Context, int64) (int64, error){
		m.DeleteSessionsOlderThan,
		m.DeleteBatterySamplesOlderThan,
		m.DeleteDeviceEventsOlderThan,
		m.DeleteReportsOlderThan,
	} {
		n, _ := del(ctx, before)
		total += n
	}
	return total, nil
}

func (m *Memory) PurgeAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.sessions)
	clear(m.samples)
	clear(m.events)
	clear(m.reports)
	return nil
}

func deleteWhere[T any](rows map[string]T, match func(T) bool) int64 {
	var n int64
	for id, row := range rows {
		if match(row) {
			delete(rows, id)
			n++
		}
	}
	return n
}

func sortSamplesNewestFirst(s []collector.BatterySample) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Timestamp != s[j].Timestamp {
			return s[i].Timestamp > s[j].Timestamp
		}
		return s[i].ID > s[j].ID
	})
}

func sortEventsNewestFirst(e []collector.DeviceEvent) {
	sort.Slice(e, func(i, j int) bool {
		if e[i].Timestamp != e[j].Timestamp {
			return e[i].Timestamp > e[j].Timestamp
		}
		return e[i].ID > e[j].ID
	})
}
