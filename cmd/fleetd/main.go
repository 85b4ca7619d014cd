// Command fleetd is the fleet orchestration kernel's entrypoint: it wires
// every component (Store, Auth, Tool Registry, Resource Catalog, Tmux
// Controller, Session Manager, Supervisor, HTTP front-end) and owns the
// process lifecycle. Grounded on the teacher's cmd/cliaimonitor/main.go
// bootstrap/shutdown sequence (instance lock, pre-flight port check,
// signal-driven graceful shutdown), generalized from the teacher's
// Captain/dashboard bring-up to this domain's component set. CLI parsing is
// stdlib flag, matching the teacher (cobra is explicitly out of scope).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fleetforge/fleetd/internal/agents"
	"github.com/fleetforge/fleetd/internal/auth"
	"github.com/fleetforge/fleetd/internal/fleetbus"
	"github.com/fleetforge/fleetd/internal/httpserver"
	"github.com/fleetforge/fleetd/internal/instance"
	"github.com/fleetforge/fleetd/internal/notify"
	"github.com/fleetforge/fleetd/internal/resources"
	"github.com/fleetforge/fleetd/internal/session"
	"github.com/fleetforge/fleetd/internal/store"
	"github.com/fleetforge/fleetd/internal/supervisor"
	"github.com/fleetforge/fleetd/internal/tmux"
	"github.com/fleetforge/fleetd/internal/tools"
	"github.com/fleetforge/fleetd/internal/types"
)

func main() {
	host := flag.String("host", "0.0.0.0", "HTTP server bind host")
	port := flag.Int("port", 8080, "HTTP server port")
	dataDir := flag.String("data", "data", "Data directory (store, PID file, optional JetStream)")
	toolMode := flag.String("tools", "full", "Initial tool configuration mode: full, memoryRag, minimal, development, background")
	enableBus := flag.Bool("nats", false, "Start the optional embedded NATS event bus")
	natsPort := flag.Int("nats-port", 4222, "Embedded NATS broker port")
	dashboardURL := flag.String("dashboard-url", "", "URL embedded in desktop toast click-through actions")
	projectsConfigPath := flag.String("projects", "", "Optional projects.yaml listing known project directories")

	statusCmd := flag.Bool("status", false, "Show status of a running instance")
	stopCmd := flag.Bool("stop", false, "Stop a running instance gracefully")
	forceStopCmd := flag.Bool("force-stop", false, "Force kill a running instance")
	flag.Parse()

	basePath, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to determine base path: %v\n", err)
		os.Exit(1)
	}
	if !filepath.IsAbs(*dataDir) {
		*dataDir = filepath.Join(basePath, *dataDir)
	}
	statePath := filepath.Join(*dataDir, "fleetd.pid.json")
	pidFilePath := filepath.Join(*dataDir, "fleetd.pid")

	instanceMgr := instance.NewManager(pidFilePath, statePath, *port)

	if *statusCmd {
		info, err := instanceMgr.CheckExistingInstance()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to check instance: %v\n", err)
			os.Exit(1)
		}
		if info == nil || !info.IsRunning {
			fmt.Println("fleetd is not running")
			return
		}
		fmt.Printf("fleetd running: pid=%d port=%d data=%s started=%s\n", info.PID, info.Port, info.DataDir, info.StartTime.Format(time.RFC3339))
		return
	}
	if *stopCmd || *forceStopCmd {
		info, err := instanceMgr.CheckExistingInstance()
		if err != nil || info == nil || !info.IsRunning {
			fmt.Println("fleetd is not running")
			return
		}
		if *forceStopCmd {
			if err := instance.KillProcess(info.PID); err != nil {
				fmt.Fprintf(os.Stderr, "failed to kill pid %d: %v\n", info.PID, err)
				os.Exit(1)
			}
			fmt.Println("fleetd force-stopped")
			return
		}
		if err := instance.SendShutdownRequest(info.PID); err != nil {
			fmt.Fprintf(os.Stderr, "failed to request graceful shutdown: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("fleetd shutdown requested")
		return
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create data directory: %v\n", err)
		os.Exit(1)
	}

	if !instance.IsPortAvailable(*port) {
		pid, _ := instance.GetProcessUsingPort(*port)
		fmt.Fprintf(os.Stderr, "port %d is already in use (pid %d); pick another with -port\n", *port, pid)
		os.Exit(1)
	}

	if err := instanceMgr.AcquireLock(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to acquire instance lock: %v\n", err)
		os.Exit(1)
	}
	defer instanceMgr.ReleaseLock()

	st, err := store.Open(filepath.Join(*dataDir, "fleetd.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	a := auth.New(st)
	adminToken, err := a.Bootstrap()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap admin token: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("admin token: %s\n", adminToken)

	tm := tmux.New()
	if !tm.Available() {
		fmt.Fprintln(os.Stderr, "warning: tmux binary not found on PATH; agent creation will fail")
	}

	serverURL := fmt.Sprintf("http://localhost:%d", *port)
	sv := supervisor.New(st, a, tm, serverURL)
	n := notify.New(*dashboardURL)
	sv.SetNotifier(n)

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	sv.StartThresholdMonitor(monitorCtx)

	if workingDirOverride := os.Getenv("FLEET_WORKING_DIR"); workingDirOverride != "" {
		sv.SetDefaultWorkingDir(workingDirOverride)
	}

	if *projectsConfigPath != "" {
		projectsCfg, err := agents.LoadProjectsConfig(*projectsConfigPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load projects config: %v\n", err)
		} else {
			projects, err := agents.GetAllProjects(projectsCfg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to resolve projects: %v\n", err)
			} else {
				sv.SetProjects(projects)
			}
		}
	}

	var bus *fleetbus.Bus
	if *enableBus {
		bus, err = fleetbus.New(fleetbus.Config{Port: *natsPort, JetStream: true, DataDir: filepath.Join(*dataDir, "jetstream")})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to configure event bus: %v\n", err)
			os.Exit(1)
		}
		if err := bus.Start(fleetbus.Config{Port: *natsPort, JetStream: true, DataDir: filepath.Join(*dataDir, "jetstream")}); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start event bus: %v\n", err)
			os.Exit(1)
		}
		defer bus.Shutdown()
		sv.SetBus(bus)
		fmt.Printf("event bus listening at %s\n", bus.URL())
	}

	reg := tools.New()
	if err := tools.RegisterCatalog(reg, st, a, sv, tm); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register tool catalog: %v\n", err)
		os.Exit(1)
	}
	reg.UpdateConfiguration(types.CategoriesForMode(types.ToolConfigMode(*toolMode)))

	resCatalog := resources.New(st, a, tm)

	sessions := session.New(st, httpserver.NewTransport)
	sessions.SetNotifier(n)
	sessions.SetBus(bus)

	srv := httpserver.New(httpserver.Config{
		Store:      st,
		Auth:       a,
		Tools:      reg,
		Resources:  resCatalog,
		Supervisor: sv,
		Tmux:       tm,
		Sessions:   sessions,
		Host:       *host,
		Port:       *port,
	})

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Start() }()

	ready := false
	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		select {
		case err := <-serverErr:
			fmt.Fprintf(os.Stderr, "server failed to start: %v\n", err)
			os.Exit(1)
		default:
		}
		if instance.HealthCheck(*port) == nil {
			ready = true
			break
		}
	}
	if !ready {
		fmt.Fprintln(os.Stderr, "server failed to become ready within timeout")
		os.Exit(1)
	}

	if err := instanceMgr.WritePIDFile(os.Getpid(), *port, basePath, *dataDir); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to write PID file: %v\n", err)
	}
	defer instanceMgr.RemovePIDFile()

	fmt.Printf("fleetd listening on %s:%d\n", *host, *port)

	shutdownSig := make(chan os.Signal, 1)
	signal.Notify(shutdownSig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		}
	case <-shutdownSig:
		fmt.Println("shutting down (signal received)...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "graceful shutdown error: %v\n", err)
	}
}
