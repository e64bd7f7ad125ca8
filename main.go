package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/socket-intents/intent-shim/audit"
	"github.com/socket-intents/intent-shim/config"
	"github.com/socket-intents/intent-shim/detect"
	"github.com/socket-intents/intent-shim/resolver"
	"github.com/socket-intents/intent-shim/shim"
	"github.com/socket-intents/intent-shim/trace"
	"github.com/socket-intents/intent-shim/web"
)

func main() {
	configPath := flag.String("config", "intent-shim.yaml", "path to config file")
	demo := flag.Bool("demo", false, "run a demo socket workload through the shim")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	tracer := trace.New(trace.Toggles{
		Calls:    cfg.Trace.Calls,
		Registry: cfg.Trace.Registry,
		Internal: cfg.Trace.Internal,
	})
	defer tracer.Sync()

	// Create store files as the invoking user, not root
	if os.Geteuid() == 0 {
		if err := dropPrivileges(); err != nil {
			fmt.Printf("Warning: failed to drop privileges: %v\n", err)
		}
	}

	db, err := audit.NewDB(cfg.DataDir)
	if err != nil {
		fmt.Printf("Failed to initialize audit store: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	detector, err := detect.NewDetector(cfg.RulesDir, db)
	if err != nil {
		fmt.Printf("Warning: detection disabled: %v\n", err)
		detector = nil
	}

	res := resolver.NewLocal()
	sh, err := shim.New(res,
		shim.WithTracer(tracer),
		shim.WithSink(db),
		shim.WithScopeCacheSize(cfg.ScopeCacheSize))
	if err != nil {
		fmt.Printf("Failed to initialize shim: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Re-apply trace toggles when the config file changes
	watcher, err := config.Watch(*configPath, func(c *config.Config) {
		tracer.SetToggles(trace.Toggles{
			Calls:    c.Trace.Calls,
			Registry: c.Trace.Registry,
			Internal: c.Trace.Internal,
		})
	})
	if err != nil {
		fmt.Printf("Warning: config watching disabled: %v\n", err)
	} else {
		defer watcher.Close()
	}

	if detector != nil {
		go func() {
			if err := detector.StartPolling(ctx, 2*time.Second); err != nil {
				fmt.Printf("Detector error: %v\n", err)
			}
		}()
	}

	go func() {
		srv := web.NewServer(db, detector, sh, cfg.WebAddr)
		if err := srv.Start(ctx); err != nil {
			fmt.Printf("Web server error: %v\n", err)
		}
	}()
	fmt.Printf("Web interface available at http://localhost%s\n", cfg.WebAddr)

	if *demo {
		go runDemo(sh)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("Shutting down...")
	cancel()
	sh.DumpRegistry(os.Stdout)
}

// runDemo drives one socket lifecycle through every hook so the dashboard
// has data without an external workload.
func runDemo(sh *shim.Shim) {
	fd, err := sh.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		fmt.Printf("demo: socket: %v\n", err)
		return
	}

	category := []byte{1, 0, 0, 0}
	if err := sh.Setsockopt(fd, resolver.LevelIntent, resolver.IntentCategory, category); err != nil {
		fmt.Printf("demo: setsockopt: %v\n", err)
	}

	if err := sh.Bind(fd, &unix.SockaddrInet4{}); err != nil {
		fmt.Printf("demo: bind: %v\n", err)
	}

	hints := &resolver.Hints{Family: unix.AF_INET, SockType: unix.SOCK_DGRAM}
	addrs, err := sh.Getaddrinfo("localhost", "domain", hints)
	if err != nil {
		fmt.Printf("demo: getaddrinfo: %v\n", err)
	} else if len(addrs) > 0 {
		if err := sh.Connect(fd, addrs[0].Addr); err != nil {
			fmt.Printf("demo: connect: %v\n", err)
		}
	}

	if err := sh.Close(fd); err != nil {
		fmt.Printf("demo: close: %v\n", err)
	}
	fmt.Println("demo: socket lifecycle complete")
}
