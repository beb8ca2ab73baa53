package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"boardpm/internal/app"
	"boardpm/internal/errs"
	syncsvc "boardpm/internal/sync"
)

type ExitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }
func (e *exitError) ExitCode() int { return e.code }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var ex ExitCoder
	if errors.As(err, &ex) {
		return ex.ExitCode()
	}
	return errs.ExitCode(err)
}

type globalFlags struct {
	configPath string
	jsonOutput bool
	verbose    bool
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:           "boardpm",
		Short:         "Manage scoreboard board plugins from git",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	newSvc := func() (*app.Service, error) {
		return app.New(app.Options{
			ConfigPath: flags.configPath,
			LogLevel:   flags.logLevel,
			LogFormat:  flags.logFormat,
			Verbose:    flags.verbose,
			LogOutput:  cmd.ErrOrStderr(),
		})
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "path to boardpm.toml")
	pf.BoolVar(&flags.jsonOutput, "json", false, "output JSON")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")
	pf.Var(newEnumValue(&flags.logLevel, "debug", "info", "warn", "error"), "log-level", "log level: debug|info|warn|error")
	pf.Var(newEnumValue(&flags.logFormat, "text", "json"), "log-format", "log format: text|json")

	cmd.AddCommand(newListCmd(newSvc, &flags.jsonOutput))
	cmd.AddCommand(newAddCmd(newSvc, &flags.jsonOutput))
	cmd.AddCommand(newRemoveCmd(newSvc, &flags.jsonOutput))
	cmd.AddCommand(newSyncCmd(newSvc, &flags.jsonOutput))
	cmd.AddCommand(newDoctorCmd(newSvc, &flags.jsonOutput))
	cmd.AddCommand(newVersionCmd(&flags.jsonOutput))
	return cmd
}

func newAddCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	var ref, name string
	cmd := &cobra.Command{
		Use:     "add <source>",
		Aliases: []string{"install"},
		Short:   "Install a plugin from a git source and record it",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			res, err := svc.Add(cmd.Context(), args[0], ref, name)
			if err != nil {
				return err
			}
			msg := fmt.Sprintf("added %s at %s (%s)", res.ID, shortCommit(res.Commit), res.Op)
			if len(res.Preserved) > 0 {
				msg += fmt.Sprintf("\npreserved: %s", strings.Join(res.Preserved, ", "))
			}
			for _, w := range res.Warnings {
				msg += "\nwarning: " + w
			}
			return print(cmd.OutOrStdout(), *jsonOutput, res, msg)
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "branch, tag or commit (default: remote default branch)")
	cmd.Flags().StringVar(&name, "name", "", "plugin id to install as (default: the plugin's declared id)")
	return cmd
}

func newRemoveCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	var keepConfig bool
	cmd := &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"remove", "uninstall"},
		Short:   "Uninstall a plugin and drop it from the manifest",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			res, err := svc.Remove(cmd.Context(), args[0], keepConfig)
			if err != nil {
				return err
			}
			msg := "removed " + res.ID
			if len(res.Preserved) > 0 {
				msg += fmt.Sprintf(" (kept %s)", strings.Join(res.Preserved, ", "))
			}
			return print(cmd.OutOrStdout(), *jsonOutput, res, msg)
		},
	}
	cmd.Flags().BoolVar(&keepConfig, "keep-config", false, "leave preserved files in the plugin directory")
	return cmd
}

func newSyncCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:     "sync",
		Aliases: []string{"reconcile"},
		Short:   "Converge installed plugins onto the manifest",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			report, runErr := svc.SyncRun(cmd.Context(), dryRun)
			if err := print(cmd.OutOrStdout(), *jsonOutput, report, syncSummary(report)); err != nil {
				return err
			}
			if runErr != nil {
				return runErr
			}
			if report.HasFailures() {
				return &exitError{code: 1, msg: fmt.Sprintf("SYNC_FAILED: %d plugin(s) failed", len(report.Failed))}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would change without touching anything")
	return cmd
}

func syncSummary(r syncsvc.Report) string {
	var b strings.Builder
	head := "sync"
	if r.DryRun {
		head = "sync plan (dry-run)"
	}
	fmt.Fprintf(&b, "%s: %d installed, %d updated, %d removed, %d unchanged, %d failed",
		head, len(r.Installed), len(r.Updated), len(r.Removed), len(r.Unchanged), len(r.Failed))
	for _, group := range []struct {
		label string
		items []string
	}{
		{"recovered", r.Recovered},
		{"installed", r.Installed},
		{"updated", r.Updated},
		{"removed", r.Removed},
		{"pruned", r.Pruned},
		{"failed", r.Failed},
		{"warning", r.Warnings},
	} {
		for _, item := range group.items {
			fmt.Fprintf(&b, "\n  %s: %s", group.label, item)
		}
	}
	return b.String()
}

func newDoctorCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:     "doctor",
		Aliases: []string{"diag"},
		Short:   "Check git, documents and interrupted operations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			report := svc.DoctorRun(cmd.Context())
			out := cmd.OutOrStdout()
			if *jsonOutput {
				if err := print(out, true, report, ""); err != nil {
					return err
				}
			} else if len(report.Findings) == 0 {
				fmt.Fprintln(out, "healthy")
			} else {
				for _, f := range report.Findings {
					fmt.Fprintf(out, "- %s [%s] %s\n", f.Level, f.Code, f.Message)
				}
			}
			if !report.Healthy {
				return &exitError{code: 1, msg: "DOCTOR_UNHEALTHY: errors found"}
			}
			return nil
		},
	}
}

func shortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}

func print(w io.Writer, jsonOutput bool, payload any, message string) error {
	if jsonOutput {
		blob, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(blob))
		return nil
	}
	if message != "" {
		fmt.Fprintln(w, message)
	}
	return nil
}
