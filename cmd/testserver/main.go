// testserver starts the platform API on an in-memory fake runtime for E2E
// testing. Containers exit on their own after the duration they were given.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/seantiz/dsplatform/internal/api"
	"github.com/seantiz/dsplatform/internal/config"
	"github.com/seantiz/dsplatform/internal/engine"
	"github.com/seantiz/dsplatform/internal/registry"
	"github.com/seantiz/dsplatform/internal/runtime"
	"github.com/seantiz/dsplatform/internal/runtime/fake"
	"github.com/seantiz/dsplatform/internal/store"
)

// failingTargetMarker in a k6 target URL makes the job exit nonzero, the way
// k6 does when its thresholds fail.
const failingTargetMarker = "unreachable"

// scriptedExit schedules container exits from the durations encoded in their
// specs, scaled by scale.
func scriptedExit(scale float64) fake.AutoExitFunc {
	return func(spec runtime.ContainerSpec) (time.Duration, int64, bool) {
		var d time.Duration
		var code int64

		switch {
		case strings.HasPrefix(spec.Name, "k6-job-"):
			for _, kv := range spec.Env {
				switch {
				case strings.HasPrefix(kv, "DURATION="):
					d, _ = time.ParseDuration(strings.TrimPrefix(kv, "DURATION="))
				case strings.HasPrefix(kv, "TARGET_URL=") && strings.Contains(kv, failingTargetMarker):
					code = 99
				}
			}
		case strings.HasPrefix(spec.Name, "pumba-delay-"):
			for i, arg := range spec.Cmd {
				if arg == "--duration" && i+1 < len(spec.Cmd) {
					d, _ = time.ParseDuration(spec.Cmd[i+1])
				}
			}
		}

		if d <= 0 {
			return 0, 0, false
		}
		return time.Duration(float64(d) * scale), code, true
	}
}

func timeScale() float64 {
	v := os.Getenv("TESTSERVER_TIME_SCALE")
	if v == "" {
		return 1
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		log.Fatalf("invalid TESTSERVER_TIME_SCALE %q", v)
	}
	return f
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	opts := engine.DefaultOptions()
	opts.PlatformID = cfg.PlatformID

	rt := fake.New(
		fake.WithImages(opts.K6Image, opts.PumbaImage, opts.TCImage),
		fake.WithAutoExit(scriptedExit(timeScale())),
	)
	platform := map[string]string{engine.LabelPlatform: cfg.PlatformID}
	rt.AddContainer("service-a", platform)
	rt.AddContainer("service-b", platform)

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	eng := engine.NewEngine(rt, registry.New(), logger, opts, db)
	srv := api.NewServer(cfg.ListenAddr, eng, db, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("testserver: starting", "addr", cfg.ListenAddr)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.DrainTimeout)
	defer cancel()
	eng.Shutdown(drainCtx)
}
