package probe

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"github.com/showwin/speedtest-go/speedtest"

	"freshen/internal/engine"
	"freshen/pkg/logx"
)

// SpeedtestResult is the payload persisted after a speedtest run.
type SpeedtestResult struct {
	ISP           string  `json:"isp"`
	Server        string  `json:"server"`
	ServerCountry string  `json:"server_country"`
	DistanceKM    float64 `json:"distance_km"`
	PingMS        float64 `json:"ping_ms"`
	JitterMS      float64 `json:"jitter_ms"`
	DownloadMbps  float64 `json:"download_mbps"`
	UploadMbps    float64 `json:"upload_mbps"`
}

// SpeedtestHandler measures the uplink against the lowest-latency
// nearby server. A full run moves a lot of data: pair it with windows
// of hours, not minutes.
func SpeedtestHandler(log logx.Logger) engine.Handler {
	return func(ctx context.Context, t engine.Task) (any, error) {
		// A fresh client per run. The package-level helpers share a
		// DataManager that retains large snapshots between runs.
		st := speedtest.New(speedtest.WithUserConfig(&speedtest.UserConfig{
			SavingMode:     true,
			MaxConnections: 4,
		}))
		st.SetNThread(4)
		defer func() {
			st.Snapshots().Clean()
			st.Reset()
			runtime.GC()
		}()

		user, err := st.FetchUserInfoContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch user info: %w", err)
		}
		servers, err := st.FetchServerListContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch server list: %w", err)
		}
		if a := servers.Available(); a != nil {
			servers = *a
		}
		if len(servers) == 0 {
			return nil, fmt.Errorf("no servers available")
		}

		// Closest few by distance first (cheap), then pick by latency.
		sort.Slice(servers, func(i, j int) bool {
			return servers[i].Distance < servers[j].Distance
		})
		candidates := servers
		if len(candidates) > 5 {
			candidates = candidates[:5]
		}
		var server *speedtest.Server
		for _, s := range candidates {
			if err := s.PingTestContext(ctx, nil); err != nil || s.Latency <= 0 {
				continue
			}
			if server == nil || s.Latency < server.Latency {
				server = s
			}
		}
		if server == nil {
			return nil, fmt.Errorf("all latency tests failed")
		}

		log.Debug("speedtest server chosen",
			logx.String("task", t.ID),
			logx.String("server", server.Sponsor),
			logx.Float64("distance_km", server.Distance),
			logx.Int64("ping_ms", server.Latency.Milliseconds()))

		if err := server.DownloadTestContext(ctx); err != nil {
			return nil, fmt.Errorf("download test: %w", err)
		}
		if err := server.UploadTestContext(ctx); err != nil {
			return nil, fmt.Errorf("upload test: %w", err)
		}

		return &SpeedtestResult{
			ISP:           user.Isp,
			Server:        server.Sponsor,
			ServerCountry: server.Country,
			DistanceKM:    server.Distance,
			PingMS:        float64(server.Latency.Milliseconds()),
			JitterMS:      float64(server.Jitter.Milliseconds()),
			DownloadMbps:  server.DLSpeed.Mbps(),
			UploadMbps:    server.ULSpeed.Mbps(),
		}, nil
	}
}
