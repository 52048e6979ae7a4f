package main

import (
	"context"
	"log/slog"
	"time"

	"hybrid/server/internal/state"
	"hybrid/server/internal/voice"
)

// RunMetrics logs relay stats every interval until ctx is canceled. Quiet
// intervals with no clients and no traffic are skipped.
func RunMetrics(ctx context.Context, vs *voice.Server, reg *state.Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frames, bytes := vs.Stats()
			clients := reg.TextCount()
			if clients == 0 && frames == 0 {
				continue
			}
			slog.Info("relay stats",
				"clients", clients,
				"voice_conns", reg.VoiceCount(),
				"frames", frames,
				"bytes", bytes,
				"kbps", float64(bytes)/interval.Seconds()/1024*8)
		}
	}
}
