package speedtest

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"
)

// RunConfig controls one measurement.
type RunConfig struct {
	// ServerCount candidates are picked by distance, then pinged.
	ServerCount     int
	// FullTestServers lowest-latency candidates get a download/upload test,
	// one after another.
	FullTestServers int
	SavingMode      bool
	MaxConnections  int
	PingConcurrency int

	OperationTimeout  time.Duration
	DisableHTTP2      bool
	PacketLossEnabled bool
	PacketLossTimeout time.Duration
}

func (c RunConfig) withDefaults() RunConfig {
	if c.ServerCount <= 0 {
		c.ServerCount = 5
	}
	if c.FullTestServers <= 0 {
		c.FullTestServers = 1
	}
	c.FullTestServers = min(c.FullTestServers, c.ServerCount)
	if c.MaxConnections <= 0 {
		c.MaxConnections = 4
	}
	if c.PingConcurrency <= 0 {
		c.PingConcurrency = 4
	}
	if c.PacketLossTimeout <= 0 {
		c.PacketLossTimeout = 3 * time.Second
	}
	return c
}

// Run executes a single measurement against speedtest.net servers.
func Run(ctx context.Context, cfg RunConfig) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(ctx)
	start := time.Now()
	hc, tr := newHTTPClient(cfg)
	stc := st.New(
		st.WithUserConfig(&st.UserConfig{SavingMode: cfg.SavingMode, MaxConnections: cfg.MaxConnections}),
		st.WithDoer(hc),
	)
	stc.SetNThread(cfg.MaxConnections)
	defer func() {
		cancel()
		stc.Snapshots().Clean()
		stc.Reset()
		tr.CloseIdleConnections()
	}()

	user, err := stc.FetchUserInfoContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}
	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return nil, errors.New("no servers available")
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	candidates := servers[:min(cfg.ServerCount, len(servers))]

	pinged := pingCandidates(ctx, candidates, cfg.PingConcurrency)
	if len(pinged) == 0 {
		return nil, errors.New("all latency tests failed")
	}
	sort.Slice(pinged, func(i, j int) bool { return pinged[i].Latency < pinged[j].Latency })

	var full []serverResult
	for _, s := range pinged[:min(cfg.FullTestServers, len(pinged))] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.DownloadTestContext(ctx); err != nil {
			continue
		}
		if err := s.UploadTestContext(ctx); err != nil {
			continue
		}
		full = append(full, serverResult{Server: s, Download: s.DLSpeed.Mbps(), Upload: s.ULSpeed.Mbps(), Ping: s.Latency})
		stc.Snapshots().Clean()
		stc.Reset()
	}
	if len(full) == 0 {
		return nil, errors.New("full test failed for all servers")
	}

	avg := average(full)
	chosen := best(full)

	pl := 0.0
	if cfg.PacketLossEnabled {
		host := chosen.Server.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		plCtx, cancel := context.WithTimeout(ctx, cfg.PacketLossTimeout)
		pl = packetLoss(plCtx, host)
		cancel()
	}

	jitter := float64(chosen.Server.Jitter.Milliseconds())
	if jitter <= 0 {
		jitter = math.Max(0.1, float64(avg.Ping.Milliseconds())*0.1)
	}

	return &Result{
		Timestamp:      time.Now(),
		DownloadMbps:   avg.Download,
		UploadMbps:     avg.Upload,
		PingMs:         float64(avg.Ping.Milliseconds()),
		Jitter:         jitter,
		PacketLoss:     pl,
		ISP:            user.Isp,
		ServerName:     chosen.Server.Sponsor,
		ServerCountry:  chosen.Server.Country,
		Duration:       time.Since(start),
		CandidateCount: len(candidates),
		FullTestCount:  len(full),
	}, nil
}

func pingCandidates(ctx context.Context, servers []*st.Server, limit int) []*st.Server {
	sem := make(chan struct{}, limit)
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		out []*st.Server
	)
	for _, s := range servers {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}
			defer func() { <-sem }()
			if err := s.PingTestContext(ctx, nil); err != nil || s.Latency <= 0 {
				return
			}
			mu.Lock()
			out = append(out, s)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

type serverResult struct {
	Server   *st.Server
	Download float64
	Upload   float64
	Ping     time.Duration
}

func average(rs []serverResult) serverResult {
	var out serverResult
	for _, r := range rs {
		out.Download += r.Download
		out.Upload += r.Upload
		out.Ping += r.Ping
	}
	n := len(rs)
	out.Download /= float64(n)
	out.Upload /= float64(n)
	out.Ping /= time.Duration(n)
	return out
}

// best prefers lower ping, then higher download.
func best(rs []serverResult) *serverResult {
	b := &rs[0]
	for i := 1; i < len(rs); i++ {
		if rs[i].Ping < b.Ping || (rs[i].Ping == b.Ping && rs[i].Download > b.Download) {
			b = &rs[i]
		}
	}
	return b
}

func packetLoss(ctx context.Context, host string) float64 {
	if host == "" {
		return 0
	}
	pla := st.NewPacketLossAnalyzer(nil)
	pl, err := pla.RunMultiWithContext(ctx, []string{host})
	if err != nil || pl == nil {
		return 0
	}
	return pl.LossPercent()
}

func newHTTPClient(cfg RunConfig) (*http.Client, *http.Transport) {
	dialTimeout := 10 * time.Second
	if cfg.OperationTimeout > 0 {
		dialTimeout = max(min(dialTimeout, cfg.OperationTimeout/2), 2*time.Second)
	}
	d := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   max(cfg.MaxConnections, 2),
		IdleConnTimeout:       10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     !cfg.DisableHTTP2,
	}
	if cfg.DisableHTTP2 {
		tr.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}
	return &http.Client{Transport: tr}, tr
}
