// ABOUTME: Cobra commands for serving, checking, importing and syncing rule scripts
// ABOUTME: One-shot commands open the store directly and print colored results

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/hearth/internal/config"
	"github.com/2389/hearth/internal/gateway"
	"github.com/2389/hearth/internal/rules"
	"github.com/2389/hearth/internal/script"
	"github.com/2389/hearth/internal/store"
)

const banner = `
  _                     _   _
 | |__   ___  __ _ _ __| |_| |__
 | '_ \ / _ \/ _' | '__| __| '_ \
 | | | |  __/ (_| | |  | |_| | | |
 |_| |_|\___|\__,_|_|   \__|_| |_|
`

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "hearth",
		Short:         "Rule-driven auto-reply gateway for chat webhooks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "config file (default $HEARTH_CONFIG or ~/.config/hearth/hearth.yaml)")

	root.AddCommand(newServeCommand())
	root.AddCommand(newCheckCommand())
	root.AddCommand(newImportCommand())
	root.AddCommand(newSyncCommand())
	root.AddCommand(newVersionCommand())
	return root
}

// loadConfig reads the config named by --config, or the resolved default
// path. A missing default file yields the built-in defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	explicit := path != ""
	if !explicit {
		path = config.ResolvePath()
	}

	if _, err := os.Stat(path); err != nil && errors.Is(err, os.ErrNotExist) && !explicit {
		return config.Default(), "(defaults)", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			_, _ = color.New(color.FgCyan).Fprint(out, banner)
			_, _ = color.New(color.FgHiBlack).Fprintf(out, "    version: %s\n\n", version)

			printStep(out, "Config", path)
			printStep(out, "HTTP", cfg.Server.HTTPAddr)
			printStep(out, "Database", cfg.Database.Path)
			if cfg.Rules.Dir != "" {
				rulesDir := cfg.Rules.Dir
				if cfg.Rules.Watch {
					rulesDir += color.YellowString(" [watch]")
				}
				printStep(out, "Rules", rulesDir)
			}
			if cfg.Delivery.Token == "" {
				printStep(out, "Delivery", color.YellowString("log only"))
			} else {
				printStep(out, "Delivery", cfg.Delivery.BaseURL)
			}
			_, _ = fmt.Fprintln(out)

			logger := setupLogger(cfg.Logging, out)
			logger.Info("starting hearth", "config", path, "http_addr", cfg.Server.HTTPAddr, "version", version)

			gw, err := gateway.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			return gw.Run(cmd.Context())
		},
	}
}

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check FILE...",
		Short: "Compile rule scripts and report diagnostics",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0
			for _, file := range args {
				if !checkFile(out, file) {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d file(s) failed to compile", failed, len(args))
			}
			return nil
		},
	}
}

// checkFile compiles one script and prints its diagnostics. It reports success.
func checkFile(w io.Writer, file string) bool {
	source, err := os.ReadFile(file)
	if err != nil {
		_, _ = fmt.Fprintf(w, "%s %s: %v\n", color.RedString("✗"), file, err)
		return false
	}

	compiled, err := script.Compile(string(source))
	if err != nil {
		_, _ = fmt.Fprintf(w, "%s %s\n", color.RedString("✗"), file)
		var cerr *script.CompileError
		if errors.As(err, &cerr) {
			for _, d := range cerr.Diagnostics {
				printDiagnostic(w, file, "error", d)
			}
		} else {
			_, _ = fmt.Fprintf(w, "    %v\n", err)
		}
		return false
	}

	_, _ = fmt.Fprintf(w, "%s %s %s\n", color.GreenString("✓"), file,
		color.HiBlackString("(%d triggers, topics: %s)", compiled.TriggerCount(), strings.Join(compiled.TopicNames(), ", ")))
	for _, d := range compiled.Warnings {
		printDiagnostic(w, file, "warning", d)
	}
	return true
}

func printDiagnostic(w io.Writer, file, severity string, d script.Diagnostic) {
	label := color.YellowString(severity)
	if severity == "error" {
		label = color.RedString(severity)
	}
	_, _ = fmt.Fprintf(w, "    %s:%d: %s: %s\n", file, d.Line, label, d.Message)
}

func newImportCommand() *cobra.Command {
	var (
		name     string
		priority int
		isDef    bool
		inactive bool
	)
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Compile a rule script and store it as a rule set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			file := args[0]

			if !checkFile(out, file) {
				return fmt.Errorf("%s does not compile, nothing imported", file)
			}
			source, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading %s: %w", file, err)
			}
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
			}

			s, err := store.NewSQLiteStore(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer func() { _ = s.Close() }()

			rs := &store.RuleSet{
				Name:       name,
				SourceText: string(source),
				IsActive:   !inactive,
				IsDefault:  isDef,
				Priority:   priority,
			}
			if err := s.SaveRuleSet(cmd.Context(), rs); err != nil {
				return fmt.Errorf("saving rule set %q: %w", name, err)
			}

			_, _ = fmt.Fprintf(out, "%s imported %s %s\n", color.GreenString("▶"), name, color.HiBlackString("(%s)", rs.ID))
			_, _ = fmt.Fprintln(out, color.HiBlackString("    a running gateway picks this up on POST /admin/reload"))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "rule set name (default: file name without extension)")
	cmd.Flags().IntVar(&priority, "priority", 100, "priority, lower answers first")
	cmd.Flags().BoolVar(&isDef, "default", false, "mark as the default rule set")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "store without activating")
	return cmd
}

func newSyncCommand() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Store every rule set listed in the rules directory manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Rules.Dir
			}
			if dir == "" {
				return errors.New("no rules directory: set rules.dir or pass --dir")
			}

			errOut := cmd.ErrOrStderr()
			gw, err := gateway.New(cfg, setupLogger(config.LoggingConfig{Level: "warn", Format: cfg.Logging.Format}, errOut))
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			defer func() { _ = gw.Close() }()

			report, err := gw.Loader().SyncDir(cmd.Context(), dir)
			if err != nil {
				if rsErr := (*rules.RuleSetError)(nil); errors.As(err, &rsErr) {
					if diags, ok := rules.Diagnostics(err); ok {
						for _, d := range diags {
							printDiagnostic(cmd.OutOrStdout(), rsErr.RuleSet, "error", d)
						}
					}
				}
				return fmt.Errorf("syncing %s: %w", dir, err)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "rules directory (default rules.dir from config)")
	return cmd
}

func printReport(w io.Writer, report *rules.Report) {
	for _, rs := range report.RuleSets {
		marker := ""
		if rs.Default {
			marker = color.CyanString(" [default]")
		}
		_, _ = fmt.Fprintf(w, "%s %s%s %s\n", color.GreenString("▶"), rs.Name, marker,
			color.HiBlackString("(priority %d, %d triggers)", rs.Priority, rs.Triggers))
		for _, d := range rs.Warnings {
			printDiagnostic(w, rs.Name, "warning", d)
		}
	}
	_, _ = fmt.Fprintf(w, "%d active rule set(s) loaded\n", len(report.RuleSets))
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
}
