package speedtest

import (
	"fmt"
	"strings"
)

func formatResult(r *Result) string {
	return fmt.Sprintf(
		"Speedtest\n"+
			"Download: %.2f Mbps\n"+
			"Upload: %.2f Mbps\n"+
			"Ping: %.2f ms | Jitter: %.2f ms\n"+
			"Packet loss: %.2f%%\n"+
			"ISP: %s\n"+
			"Server: %s (%s)\n"+
			"Duration: %.1fs | Servers: %d/%d\n"+
			"Time: %s",
		r.DownloadMbps, r.UploadMbps,
		r.PingMs, r.Jitter,
		r.PacketLoss,
		r.ISP,
		r.ServerName, r.ServerCountry,
		r.Duration.Seconds(), r.FullTestCount, r.CandidateCount,
		r.Timestamp.Format("2006-01-02 15:04:05"),
	)
}

func formatStats(s Stats) string {
	if s.TestCount == 0 {
		return "No speedtest data for the last 24 hours"
	}
	return fmt.Sprintf(
		"Last 24 hours: %d tests (%s - %s)\n"+
			"Download avg/max/min: %.2f / %.2f / %.2f Mbps\n"+
			"Upload avg/max/min: %.2f / %.2f / %.2f Mbps\n"+
			"Ping avg/max/min: %.2f / %.2f / %.2f ms\n"+
			"Packet loss avg: %.2f%%",
		s.TestCount, s.FirstTest.Format("15:04:05"), s.LastTest.Format("15:04:05"),
		s.AvgDownload, s.MaxDownload, s.MinDownload,
		s.AvgUpload, s.MaxUpload, s.MinUpload,
		s.AvgPing, s.MaxPing, s.MinPing,
		s.AvgPacketLoss,
	)
}

// formatHistory renders one line per result, newest first.
func formatHistory(rs []Result) []string {
	out := make([]string, 0, len(rs))
	for i := len(rs) - 1; i >= 0; i-- {
		r := rs[i]
		out = append(out, strings.Join([]string{
			r.Timestamp.Format("01-02 15:04"),
			fmt.Sprintf("%.1f/%.1f Mbps", r.DownloadMbps, r.UploadMbps),
			fmt.Sprintf("%.0f ms", r.PingMs),
		}, " "))
	}
	return out
}
