// Command frontproxy starts the configurable HTTP front-end with a
// settings preset and a concurrency strategy selected on the command
// line. The real wiring lives in the frontproxy and server packages;
// this stays a thin entrypoint in the teacher's style.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kestrel-systems/frontproxy"
	"github.com/kestrel-systems/frontproxy/server"
	"github.com/spf13/cobra"
)

var (
	settingsKey   int
	strategyName  string
	listenPort    int
	dashboardPort int
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frontproxy",
		Short: "Configurable HTTP front-end: static files, reverse proxy, load balancing, health checks",
		RunE:  run,
	}

	cmd.Flags().IntVar(&settingsKey, "settings", 0, "settings preset key to serve (required)")
	cmd.Flags().StringVar(&strategyName, "strategy", "", "concurrency strategy: thread-per-client (tpc), thread-per-request (tpr), cooperative (coop)")
	cmd.Flags().IntVar(&listenPort, "port", 0, "override the preset's listen port (0 = use preset)")
	cmd.Flags().IntVar(&dashboardPort, "dashboard-port", -1, "override the preset's dashboard port (-1 = use preset, 0 = disable)")
	cmd.MarkFlagRequired("settings")
	cmd.MarkFlagRequired("strategy")

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	settings, err := frontproxy.DefaultPresets.Resolve(settingsKey)
	if err != nil {
		return err
	}
	if listenPort != 0 {
		settings.ListenPort = listenPort
	}
	if dashboardPort != -1 {
		settings.DashboardPort = dashboardPort
	}

	strategy, err := newStrategy(strategyName, settings)
	if err != nil {
		return err
	}

	stats := &frontproxy.Stats{}
	dashboard := frontproxy.NewDashboard(settings.DashboardPort, stats)
	go dashboard.Start()

	srv, err := strategy(settings, stats, dashboard)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		printStats(stats)
		return err
	case <-sigCh:
		srv.Stop()
		printStats(stats)
		return nil
	}
}

// newStrategy resolves a strategy name (with short aliases) to a builder
// that assembles the matching server.Strategy against one Settings value.
// The two blocking strategies get a builder that fills Config.Table; the
// cooperative strategy gets one that fills Config.AsyncTable. Only the
// table the chosen strategy uses is built.
func newStrategy(name string, settings *frontproxy.Settings) (func(*frontproxy.Settings, *frontproxy.Stats, *frontproxy.Dashboard) (server.Strategy, error), error) {
	switch name {
	case "thread-per-client", "tpc":
		return buildSync(func(cfg server.Config) server.Strategy { return server.NewThreadPerClient(cfg) }), nil
	case "thread-per-request", "tpr":
		return buildSync(func(cfg server.Config) server.Strategy { return server.NewThreadPerRequest(cfg) }), nil
	case "cooperative", "coop":
		return buildAsync(func(cfg server.Config) server.Strategy { return server.NewCooperative(cfg) }), nil
	default:
		return nil, fmt.Errorf("frontproxy: unknown strategy %q (want thread-per-client, thread-per-request, or cooperative)", name)
	}
}

func buildSync(newFn func(server.Config) server.Strategy) func(*frontproxy.Settings, *frontproxy.Stats, *frontproxy.Dashboard) (server.Strategy, error) {
	return func(settings *frontproxy.Settings, stats *frontproxy.Stats, dashboard *frontproxy.Dashboard) (server.Strategy, error) {
		table, err := settings.BuildTable(stats)
		if err != nil {
			return nil, err
		}
		return newFn(server.Config{
			Host:      settings.ListenHost,
			Port:      settings.ListenPort,
			Table:     table,
			Stats:     stats,
			Dashboard: dashboard,
		}), nil
	}
}

func buildAsync(newFn func(server.Config) server.Strategy) func(*frontproxy.Settings, *frontproxy.Stats, *frontproxy.Dashboard) (server.Strategy, error) {
	return func(settings *frontproxy.Settings, stats *frontproxy.Stats, dashboard *frontproxy.Dashboard) (server.Strategy, error) {
		asyncTable, err := settings.BuildAsyncTable(stats)
		if err != nil {
			return nil, err
		}
		return newFn(server.Config{
			Host:       settings.ListenHost,
			Port:       settings.ListenPort,
			AsyncTable: asyncTable,
			Stats:      stats,
			Dashboard:  dashboard,
		}), nil
	}
}

func printStats(stats *frontproxy.Stats) {
	out, err := json.Marshal(stats.Snapshot())
	if err != nil {
		fmt.Fprintf(os.Stderr, "frontproxy: marshaling final stats: %v\n", err)
		return
	}
	fmt.Println(string(out))
}
