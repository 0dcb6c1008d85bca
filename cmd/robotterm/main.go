package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"robotterm/internal/config"
	"robotterm/internal/directory"
	"robotterm/internal/term"
	"robotterm/internal/uart"
)

var rootCmd = &cobra.Command{
	Use:   "robotterm",
	Short: "Terminal for a robot speaking UART-over-BLE",
	Long: `robotterm opens an interactive command session with a paired Bluetooth
LE peripheral that exposes the Nordic UART Service, such as a BBC
micro:bit robot: typed lines go to the robot, its replies are printed.

Without --robot-name it lists the devices paired with this host.`,
	Args: cobra.NoArgs,
	RunE: run,
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors.
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	rootCmd.Flags().String("robot-name", "", `alias of the paired robot (default "BBC micro:bit" when the flag value is empty)`)
	rootCmd.Flags().String("config", "", "path to config file (default: ~/.config/robotterm/config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR: "+exitMessage(err))
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	setupLogging(cfg.LogLevel)

	dir, err := directory.System()
	if err != nil {
		return err
	}

	// No robot name: listing mode only.
	if !cmd.Flags().Changed("robot-name") {
		return listPaired(cmd.OutOrStdout(), dir)
	}

	name, _ := cmd.Flags().GetString("robot-name")
	if name == "" {
		name = cfg.RobotName
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("Connecting to %q...", name)
	sess, err := uart.Dial(ctx, dir, uart.NewBlueZAdapter(), name, uart.Options{
		ConnectTimeout:  time.Duration(cfg.ConnectTimeout),
		TransferUnit:    cfg.TransferUnit,
		InterChunkDelay: time.Duration(cfg.InterChunkDelay),
	})
	if err != nil {
		return err
	}
	log.Printf("Connected to %s", sess.Address())

	return term.New(os.Stdin, os.Stdout, os.Stderr).Run(ctx, sess)
}

// listPaired prints one line per paired device: alias plus address, so
// devices sharing an alias stay distinguishable.
func listPaired(w io.Writer, dir *directory.Directory) error {
	devices, err := dir.ListPaired()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(w, "No paired devices.")
		return nil
	}
	fmt.Fprintln(w, "Paired devices:")
	for _, d := range devices {
		fmt.Fprintf(w, " - %s [%s]\n", d.Alias, d.Address)
	}
	return nil
}

// exitMessage maps each failure class to its own operator-facing text.
func exitMessage(err error) string {
	switch {
	case errors.Is(err, directory.ErrUnavailable):
		return fmt.Sprintf("cannot query Bluetooth devices: %v\nCheck that bluetooth.service is running and you have access to the system bus.", err)
	case errors.Is(err, uart.ErrDeviceNotFound):
		return fmt.Sprintf("%v\nPair the robot first (it will not be paired automatically), then run robotterm with no flags to list paired devices.", err)
	case errors.Is(err, uart.ErrConnectTimeout):
		return fmt.Sprintf("%v\nIs the robot powered on and in range?", err)
	case errors.Is(err, uart.ErrConnectRefused):
		return fmt.Sprintf("%v\nThe robot rejected the link; power-cycling it usually helps.", err)
	default:
		return err.Error()
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	// No config file, use defaults.
	return config.Default(), nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
