package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"seqmon/internal/config"
	"seqmon/internal/httpapi"
	"seqmon/internal/monitor"
	"seqmon/internal/rpc"
	"seqmon/pkg/types"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "seqmon",
		Short:         "Monitor a local sequencing instrument",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultLogLevel := "info"
	if v := os.Getenv("SEQMON_LOG_LEVEL"); v != "" {
		defaultLogLevel = v
	}
	root.PersistentFlags().String("config", "", "Config file (.yaml, .toml or .json)")
	root.PersistentFlags().String("host", "", "Instrument host (must be loopback)")
	root.PersistentFlags().Int("port", 0, "Discovery service port")
	root.PersistentFlags().String("log-level", defaultLogLevel, "Log level: debug|info|warn|error")

	root.AddCommand(newWatchCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newActionCmd("pause", "Pause the protocol run on a position",
		func(ctx context.Context, s rpc.PositionSession) error { return s.Pause(ctx) }))
	root.AddCommand(newActionCmd("resume", "Resume a paused protocol run on a position",
		func(ctx context.Context, s rpc.PositionSession) error { return s.Resume(ctx) }))
	root.AddCommand(newStopCmd())
	return root
}

// loadSettings merges the config file, if any, with command-line overrides.
func loadSettings(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("host") {
		cfg.Connection.Host, _ = cmd.Flags().GetString("host")
	} else if v := os.Getenv("SEQMON_HOST"); v != "" {
		cfg.Connection.Host = v
	}
	if cmd.Flags().Changed("port") {
		cfg.Connection.Port, _ = cmd.Flags().GetInt("port")
	} else if v := os.Getenv("SEQMON_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Connection.Port = port
		}
	}
	if cmd.Flags().Changed("log-level") || cfg.LogLevel == "" {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	return cfg, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if os.Getenv("SEQMON_LOG_JSON") == "1" {
		return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()
}

func timeoutsFromConfig(cfg config.Config) rpc.Timeouts {
	return rpc.Timeouts{
		Connect:    cfg.Connection.ConnectTimeout.Std(),
		Request:    cfg.Connection.RequestTimeout.Std(),
		StreamRead: cfg.Connection.StreamTimeout.Std(),
	}
}

func policyFromConfig(cfg config.Config) rpc.ReconnectPolicy {
	return rpc.ReconnectPolicy{
		InitialDelay:   cfg.Reconnect.InitialDelay.Std(),
		MaxDelay:       cfg.Reconnect.MaxDelay.Std(),
		Multiplier:     cfg.Reconnect.Multiplier,
		JitterFraction: cfg.Reconnect.JitterFraction,
		MaxAttempts:    cfg.Reconnect.MaxAttempts,
	}
}

// connectOnce dials for a one-shot command: a handful of retries, then give
// up instead of backing off forever.
func connectOnce(ctx context.Context, cfg config.Config, log zerolog.Logger) (*rpc.Client, error) {
	policy := policyFromConfig(cfg)
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = 3
	}
	return rpc.ConnectWithRetry(ctx, cfg.Connection.Host, cfg.Connection.Port,
		timeoutsFromConfig(cfg), policy, log)
}

func newWatchCmd() *cobra.Command {
	defaultAddr := ":8090"
	if v := os.Getenv("SEQMON_ADDR"); v != "" {
		defaultAddr = v
	}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Monitor continuously and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.HTTP.Addr, _ = cmd.Flags().GetString("addr")
			}
			log := newLogger(cfg.LogLevel)

			sm := rpc.NewSessionManager(cfg.Connection.Host, cfg.Connection.Port,
				timeoutsFromConfig(cfg), policyFromConfig(cfg), log)
			defer sm.Close()
			mon := monitor.New(sm, monitor.Config{Interval: cfg.RefreshInterval.Std()}, log)

			httpapi.SetLogger(log)
			httpapi.SetCORSOptions(cfg.HTTP.CORSEnabled, cfg.HTTP.CORSOrigins,
				cfg.HTTP.CORSMethods, cfg.HTTP.CORSHeaders)
			srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: httpapi.NewMux(mon)}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go func() {
				if err := mon.Run(ctx); err != nil && ctx.Err() == nil {
					log.Error().Err(err).Msg("monitor stopped")
				}
			}()
			go func() {
				log.Info().Str("addr", cfg.HTTP.Addr).Msg("http api listening")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error().Err(err).Msg("server error")
					stop()
				}
			}()

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("graceful shutdown failed")
			}
			return nil
		},
	}
	cmd.Flags().String("addr", defaultAddr, "HTTP listen address")
	return cmd
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sequencing positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel)
			client, err := connectOnce(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer client.Close()

			if byDevice, _ := cmd.Flags().GetBool("devices"); byDevice {
				devices, err := client.Devices(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
					return printJSON(map[string]any{"devices": devices})
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "DEVICE\tSTATE")
				for _, d := range devices {
					fmt.Fprintf(w, "%s\t%s\n", d.ID, d.State)
				}
				return w.Flush()
			}

			positions, err := client.ListPositions(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return printJSON(map[string]any{"positions": positions})
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDEVICE\tSTATE\tPORT")
			for _, p := range positions {
				port := "-"
				if p.ControlPort != 0 {
					port = strconv.Itoa(p.ControlPort)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, p.DeviceID, p.State, port)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Bool("json", false, "Output JSON")
	cmd.Flags().Bool("devices", false, "List de-duplicated devices instead of positions")
	return cmd
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [position]",
		Short: "Show run state and stats for positions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel)
			client, err := connectOnce(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer client.Close()

			positions, err := client.ListPositions(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 1 {
				filtered := positions[:0]
				for _, p := range positions {
					if p.Name == args[0] {
						filtered = append(filtered, p)
					}
				}
				if len(filtered) == 0 {
					return &rpc.NotFoundError{Resource: "position", ID: args[0]}
				}
				positions = filtered
			}

			statuses := make([]types.PositionStatus, 0, len(positions))
			for _, pos := range positions {
				statuses = append(statuses, onePositionStatus(cmd.Context(), client, pos))
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return printJSON(map[string]any{"positions": statuses})
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tRUN STATE\tRUN ID\tPASS %\tBASES\tERROR")
			for _, st := range statuses {
				passRate, bases := "-", "-"
				if st.Stats != nil {
					passRate = fmt.Sprintf("%.1f", st.Stats.PassRate())
					bases = strconv.FormatUint(st.Stats.BasesCalled, 10)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					st.Position.Name, st.RunState.Label(), st.RunID, passRate, bases, st.LastError)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Bool("json", false, "Output JSON")
	return cmd
}

// onePositionStatus reads the state and stats for one position; failures
// are reported inline rather than aborting the whole listing.
func onePositionStatus(ctx context.Context, client *rpc.Client, pos types.Position) types.PositionStatus {
	st := types.PositionStatus{Position: pos, RunState: types.RunIdle, UpdatedAt: time.Now()}
	ps, err := client.OpenPosition(ctx, pos)
	if err != nil {
		if !rpc.IsNotFound(err) {
			st.LastError = err.Error()
		}
		return st
	}
	defer ps.Close()

	state, err := ps.RunState(ctx)
	if err != nil {
		st.LastError = err.Error()
		return st
	}
	st.RunState = state
	if !state.IsActive() {
		return st
	}
	info, stats, err := ps.RunInfo(ctx)
	if err != nil {
		st.LastError = err.Error()
		return st
	}
	st.RunID = info.RunID
	if info.RunID != "" {
		st.Stats = &stats
	}
	return st
}

func newActionCmd(verb, short string, action func(context.Context, rpc.PositionSession) error) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <position>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd, args[0], action)
		},
	}
}

func newStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <position>",
		Short: "Stop the acquisition (or whole protocol) on a position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			protocol, _ := cmd.Flags().GetBool("protocol")
			return runAction(cmd, args[0], func(ctx context.Context, s rpc.PositionSession) error {
				if protocol {
					return s.StopProtocol(ctx)
				}
				return s.StopAcquisition(ctx)
			})
		},
	}
	cmd.Flags().Bool("protocol", false, "Stop the whole protocol run, not just acquisition")
	return cmd
}

func runAction(cmd *cobra.Command, name string, action func(context.Context, rpc.PositionSession) error) error {
	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel)
	client, err := connectOnce(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer client.Close()

	positions, err := client.ListPositions(cmd.Context())
	if err != nil {
		return err
	}
	for _, pos := range positions {
		if pos.Name != name {
			continue
		}
		ps, err := client.OpenPosition(cmd.Context(), pos)
		if err != nil {
			return err
		}
		defer ps.Close()
		if err := action(cmd.Context(), ps); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	}
	return &rpc.NotFoundError{Resource: "position", ID: name}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
