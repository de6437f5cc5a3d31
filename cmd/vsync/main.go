package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"vsync/internal/app"
	"vsync/internal/config"
	"vsync/internal/copier"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config, applies mutate (may be nil) to fold CLI flags in,
// and creates an App. The caller must defer a.Close(). operation identifies
// the CLI command being run (e.g. "Scan", "Sync").
func newApp(operation string, passphrase string, mutate func(*config.Config)) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if mutate != nil {
		mutate(cfg)
	}

	a, err := app.NewApp(cfg, operation, passphrase)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase prompts on the terminal when the config enables snapshot
// encryption; otherwise it returns "".
func readPassphrase(prompt string) (string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return "", err
	}
	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return "", err
	}
	if !cfg.Encryption.Enabled {
		return "", nil
	}

	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pw), nil
}

var rootCmd = &cobra.Command{
	Use:   "vsync",
	Short: "Verified file synchronization tool",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		return config.Write(os.Stdout, cfg)
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage snapshot encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate an encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprint(os.Stderr, "New key passphrase: ")
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		fmt.Fprint(os.Stderr, "Repeat passphrase: ")
		pw2, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		if string(pw) != string(pw2) {
			return fmt.Errorf("passphrases do not match")
		}

		a, err := newApp("InitKeys", "", nil)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.InitKeys(string(pw)); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Println("Encryption keys generated.")
		return nil
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan PATH",
	Short: "Inventory a directory tree into a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		withChecksum, _ := cmd.Flags().GetBool("checksum")
		failFast, _ := cmd.Flags().GetBool("fail-fast")

		root, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}
		if name == "" {
			name = filepath.Base(root) + "-" + time.Now().UTC().Format("20060102-150405")
		}

		a, err := newApp("Scan", "", func(cfg *config.Config) {
			if cmd.Flags().Changed("checksum") {
				cfg.Scan.Checksum = withChecksum
			}
			cfg.Scan.FailFast = failFast
		})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		snap, err := a.Scan(ctx, root, name)
		if snap != nil {
			fmt.Printf("Scanned %d entries (%d errors)\n", len(snap.Entries), len(snap.Errors()))
		}
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
		fmt.Printf("Snapshot saved as %q\n", name)
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync NAME TARGET",
	Short: "Reconcile a target tree against a snapshot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		target, err := filepath.Abs(args[1])
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}

		pw, err := readPassphrase("Key passphrase")
		if err != nil {
			return err
		}

		a, err := newApp("Sync", pw, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		stats, err := a.Sync(ctx, name, target)
		if stats != nil {
			fmt.Printf("dirs created: %d  files copied: %d  skipped: %d  deleted: %d  failed: %d\n",
				stats.DirsCreated, stats.FilesCopied, stats.FilesSkipped, stats.Deleted, stats.Failed)
		}
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		return nil
	},
}

// copy command
var copyCmd = &cobra.Command{
	Use:   "copy SOURCE DESTINATION",
	Short: "Verified, resumable copy of a single file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving source: %w", err)
		}
		destination, err := filepath.Abs(args[1])
		if err != nil {
			return fmt.Errorf("resolving destination: %w", err)
		}

		a, err := newApp("Copy", "", nil)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		outcome, err := a.Copy(ctx, source, destination)
		fmt.Printf("copy: %s\n", outcome)
		if err != nil && outcome != copier.NoMetadata {
			return fmt.Errorf("copy failed: %w", err)
		}
		return nil
	},
}

// snapshots command
var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List stored snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ListSnapshots", "", nil)
		if err != nil {
			return err
		}
		defer a.Close()

		names, err := a.Snapshots(cmd.Context())
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No snapshots stored.")
			return nil
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("GetHistory", "", nil)
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(limit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt.Valid {
				d := op.FinishedAt.Time.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-10s  %s  %-8s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
			)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	keysCmd.AddCommand(keysInitCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().String("name", "", "Snapshot name (default: derived from path and time)")
	scanCmd.Flags().Bool("checksum", false, "Compute CRC32 checksums during the scan")
	scanCmd.Flags().Bool("fail-fast", false, "Stop at the first entry error")
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(copyCmd)
	rootCmd.AddCommand(snapshotsCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
