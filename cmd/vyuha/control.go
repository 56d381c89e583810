package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vyuha/server/internal/handler"
	"github.com/vyuha/server/internal/world"
)

// Control commands act on the stored world. A running `serve` against the
// same backend notices start/stop on its next agent sync.

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the current world",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			st, err := handler.SimulationState(ctx, a.deps(nil))
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"state": st, "version": st.Version})
			}
			printSummary(st)
			return nil
		})
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Mark the simulation running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			st, err := handler.StartSimulation(ctx, a.deps(nil))
			if err != nil {
				return err
			}
			fmt.Printf("Simulation started (version %d).\n", st.Version)
			return nil
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Mark the simulation stopped",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			st, err := handler.StopSimulation(ctx, a.deps(nil))
			if err != nil {
				return err
			}
			fmt.Printf("Simulation stopped (version %d).\n", st.Version)
			return nil
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Replace the world with an empty grid, optionally seeded from a scenario",
	RunE: func(cmd *cobra.Command, args []string) error {
		scenario, _ := cmd.Flags().GetString("scenario")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			st, err := handler.ResetSimulation(ctx, a.deps(nil), scenario)
			if err != nil {
				if errors.Is(err, handler.ErrUnknownScenario) && a.scenarios.Count() > 0 {
					return fmt.Errorf("%w (available: %s)", err, strings.Join(a.scenarios.Names(), ", "))
				}
				return err
			}
			fmt.Printf("World reset: %dx%d, %d entities.\n", st.Grid.Width, st.Grid.Height, len(st.Entities))
			return nil
		})
	},
}

var godCmd = &cobra.Command{
	Use:   "god <message>",
	Short: "Send a God Mode command (free text, or a .command)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			o, err := a.newOracle()
			if err != nil {
				return fmt.Errorf("oracle: %w", err)
			}
			res, err := handler.GodMode(ctx, a.deps(o), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Println(res.Message)
			if string(res.Mutations) != "[]" {
				fmt.Printf("mutations: %s\n", res.Mutations)
			}
			return nil
		})
	},
}

func init() {
	stateCmd.Flags().Bool("json", false, "print the full world document")
	resetCmd.Flags().String("scenario", "", "scenario to seed the new world with")
}

// withApp opens the app for one command and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.cfg.Store.Backend == "memory" {
		fmt.Fprintln(os.Stderr, "note: the memory store is private to this process; use redis, postgres or sqlite to share a world")
	}
	return fn(ctx, a)
}

func printSummary(st *world.State) {
	status := "stopped"
	if st.Running {
		status = "running"
	}
	fmt.Printf("Version %d  %s  grid %dx%d  actions %d  elapsed %ds\n",
		st.Version, status, st.Grid.Width, st.Grid.Height, st.ActionCount, st.Time.Elapsed/1000)
	agents := st.Agents()
	fmt.Printf("Agents (%d):\n", len(agents))
	for _, ag := range agents {
		fmt.Printf("  %s %-16s %-8s %s  %s\n", ag.Emoji, ag.Name, ag.Status, ag.Position, propsJSON(ag.Properties))
	}
	fmt.Printf("Other entities: %d\n", len(st.Entities)-len(agents))
	if len(st.GlobalRules) > 0 {
		fmt.Println("Rules:")
		for _, r := range st.GlobalRules {
			fmt.Printf("  - %s\n", r)
		}
	}
	for _, r := range st.StructuredRules {
		fmt.Printf("  [%s] %s\n", r.ID, r.Description)
	}
	tail := st.Log
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}
	if len(tail) > 0 {
		fmt.Println("Recent:")
		for _, e := range tail {
			fmt.Printf("  %s  %-14s %s\n", e.Timestamp.Format("15:04:05"), e.Type, e.Message)
		}
	}
}

func propsJSON(p world.Properties) string {
	b, err := json.Marshal(p)
	if err != nil {
		return "{}"
	}
	return string(b)
}
