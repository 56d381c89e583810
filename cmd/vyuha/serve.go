package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	coresys "github.com/vyuha/server/internal/core/system"
	"github.com/vyuha/server/internal/handler"
	gonet "github.com/vyuha/server/internal/net"
	"github.com/vyuha/server/internal/persist"
	"github.com/vyuha/server/internal/system"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the websocket stream and the agent loops",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	bootCtx, cancelBoot := context.WithTimeout(parent, 30*time.Second)
	defer cancelBoot()

	a, err := openApp(bootCtx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, log := a.cfg, a.log

	printBanner(cfg.Server.Name)

	printSection("Storage")
	printOK(fmt.Sprintf("%s store ready", cfg.Store.Backend))
	journal, err := a.newJournal(bootCtx)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	if journal != nil {
		printOK(fmt.Sprintf("%s journal ready", cfg.Journal.Sink))
	}
	fmt.Println()

	printSection("Data")
	printStat("Scenarios", a.scenarios.Count())
	o, err := a.newOracle()
	if err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	printOK(fmt.Sprintf("oracle: %s", cfg.Oracle.Provider))

	deps := a.deps(o)
	sched := system.NewScheduler(a.store, handler.AgentRunner{Deps: deps}, cfg.Simulation, a.bus, log)
	deps.Scheduler = sched

	st, err := a.store.Read(bootCtx)
	if err != nil {
		return err
	}
	if st.Version == 0 && cfg.Simulation.DefaultScenario != "" {
		if st, err = handler.ResetSimulation(bootCtx, deps, ""); err != nil {
			return fmt.Errorf("seed default scenario: %w", err)
		}
	}
	printStat("Entities", len(st.Entities))
	printStat("Agents", len(st.Agents()))
	fmt.Println()

	hub := gonet.NewHub(cfg.HTTP.AllowedOrigins, a.store.Read, log)
	srv := gonet.NewServer(cfg.HTTP, deps, hub, log)
	ln, err := net.Listen("tcp", cfg.HTTP.BindAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	tick := cfg.Server.TickRate
	runner := coresys.NewRunner()
	runner.Register(system.NewEventDispatchSystem(a.bus))
	runner.Register(system.NewAgentSyncSystem(sched, log, ticksPer(time.Second, tick)))
	runner.Register(system.NewBroadcastSystem(a.bus, hub))
	var journalSys *system.JournalSystem
	if journal != nil {
		journalSys = system.NewJournalSystem(a.bus, journal, log, ticksPer(cfg.Journal.FlushEach, tick))
		runner.Register(journalSys)
	}
	var snapshotSys *system.SnapshotSystem
	if cfg.Snapshot.Every > 0 {
		archive := &persist.SnapshotArchive{Dir: cfg.Snapshot.Dir, Keep: cfg.Snapshot.Keep}
		snapshotSys = system.NewSnapshotSystem(a.bus, archive, cfg.Snapshot.Every, log)
		runner.Register(snapshotSys)
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdownCh)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	printSection("Ready")
	printReady(fmt.Sprintf("listening on %s", ln.Addr()))
	printReady(fmt.Sprintf("tick loop started (tick: %s)", tick))
	if st.Running {
		printReady("resuming running simulation")
	}
	fmt.Println()

	g.Go(func() error { return srv.Serve(ln) })

	g.Go(func() error {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runner.Tick(tick)
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		select {
		case sig := <-shutdownCh:
			log.Info("shutdown signal", zap.String("signal", sig.String()))
		case <-gctx.Done():
		}
		cancel()
		shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shCancel()
		return srv.Shutdown(shCtx)
	})

	err = g.Wait()

	// loops stop without clearing the running flag so a restart resumes
	sched.Halt()
	runner.Drain(coresys.DrainPhases, tick)
	if journalSys != nil {
		journalSys.Flush()
	}
	if snapshotSys != nil {
		snapshotSys.SaveNow()
	}
	log.Info("server stopped")
	return err
}

func ticksPer(d, tick time.Duration) int {
	if tick <= 0 || d <= tick {
		return 1
	}
	return int(d / tick)
}
