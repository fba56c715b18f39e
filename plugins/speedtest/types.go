package speedtest

import "time"

// Result is a single measurement. JSON tags are persisted in the history
// blob and must stay stable.
type Result struct {
	Timestamp     time.Time `json:"timestamp"`
	DownloadMbps  float64   `json:"download_mbps"`
	UploadMbps    float64   `json:"upload_mbps"`
	PingMs        float64   `json:"ping_ms"`
	Jitter        float64   `json:"jitter"`
	PacketLoss    float64   `json:"packet_loss"`
	ISP           string    `json:"isp"`
	ServerName    string    `json:"server_name"`
	ServerCountry string    `json:"server_country"`

	Duration       time.Duration `json:"-"`
	CandidateCount int           `json:"-"`
	FullTestCount  int           `json:"-"`
}

// Stats aggregates the results of one period.
type Stats struct {
	TestCount     int
	AvgDownload   float64
	AvgUpload     float64
	AvgPing       float64
	MaxDownload   float64
	MinDownload   float64
	MaxUpload     float64
	MinUpload     float64
	MaxPing       float64
	MinPing       float64
	AvgPacketLoss float64
	FirstTest     time.Time
	LastTest      time.Time
}
