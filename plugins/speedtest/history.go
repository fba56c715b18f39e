package speedtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"wearnotify/internal/cache"
)

const (
	historyFile       = "history.json"
	historyMaxRecords = 500
	historyMaxAge     = 90 * 24 * time.Hour
)

// history keeps results as one JSON array in the module cache.
type history struct {
	mods *cache.ModuleCache
	now  func() time.Time
}

func (h history) load() ([]Result, error) {
	if h.mods == nil {
		return nil, nil
	}
	b, err := h.mods.Get(Name, historyFile)
	if errors.Is(err, cache.ErrNotFound) || len(b) == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	var rs []Result
	if err := json.Unmarshal(b, &rs); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return compact(rs, h.now()), nil
}

func (h history) add(r Result) error {
	if h.mods == nil {
		return nil
	}
	rs, err := h.load()
	if err != nil {
		return err
	}
	b, err := json.Marshal(compact(append(rs, r), h.now()))
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	return h.mods.Put(Name, historyFile, b)
}

// compact drops undated and expired results, sorts by time and keeps the
// newest historyMaxRecords.
func compact(rs []Result, now time.Time) []Result {
	cutoff := now.Add(-historyMaxAge)
	out := make([]Result, 0, len(rs))
	for _, r := range rs {
		if r.Timestamp.IsZero() || r.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if len(out) > historyMaxRecords {
		out = out[len(out)-historyMaxRecords:]
	}
	return out
}

// statsSince aggregates results newer than since.
func statsSince(rs []Result, since time.Time) Stats {
	var s Stats
	for _, r := range rs {
		if !r.Timestamp.After(since) {
			continue
		}
		if s.TestCount == 0 {
			s.MinDownload, s.MinUpload, s.MinPing = r.DownloadMbps, r.UploadMbps, r.PingMs
			s.FirstTest = r.Timestamp
		}
		s.TestCount++
		s.AvgDownload += r.DownloadMbps
		s.AvgUpload += r.UploadMbps
		s.AvgPing += r.PingMs
		s.AvgPacketLoss += r.PacketLoss
		s.MaxDownload = max(s.MaxDownload, r.DownloadMbps)
		s.MinDownload = min(s.MinDownload, r.DownloadMbps)
		s.MaxUpload = max(s.MaxUpload, r.UploadMbps)
		s.MinUpload = min(s.MinUpload, r.UploadMbps)
		s.MaxPing = max(s.MaxPing, r.PingMs)
		s.MinPing = min(s.MinPing, r.PingMs)
		s.LastTest = r.Timestamp
	}
	if n := float64(s.TestCount); n > 0 {
		s.AvgDownload /= n
		s.AvgUpload /= n
		s.AvgPing /= n
		s.AvgPacketLoss /= n
	}
	return s
}
