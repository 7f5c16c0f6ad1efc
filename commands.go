package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"devsession_mon/internal/api"
	"devsession_mon/internal/config"
	"devsession_mon/internal/logging"
	"devsession_mon/internal/report"
	"devsession_mon/internal/session"
	"devsession_mon/internal/store"
	"devsession_mon/internal/summarize"
	"devsession_mon/internal/tui"
)

var (
	configPath string
	dbPath     string
	logLevel   string
)

// loadConfig resolves configuration before any subcommand runs and
// publishes it through config.Global
func loadConfig(cmd *cobra.Command, _ []string) error {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		// A missing .env is the common case
		_ = godotenv.Load()
		cfg, err = config.Load(configPath)
		if err == nil {
			cfg.ApplyEnv(os.LookupEnv)
		}
	} else {
		cfg, err = config.LoadFromDefaultPath()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	config.SetGlobal(cfg)
	logging.Init(cfg.LogLevel, os.Stderr)
	return nil
}

// app bundles the long-lived pieces a command works with
type app struct {
	store   *store.Store
	manager *session.Manager
}

func openApp() (*app, error) {
	cfg := config.Global()
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	backend, err := summarize.NewBackend(cfg.AI)
	if err != nil {
		st.Close()
		return nil, err
	}
	if backend == nil {
		logging.For("main").Debug("no model configured, using rule-based summaries")
	}

	return &app{
		store:   st,
		manager: session.NewManager(cfg, st, nil, summarize.New(cfg.AI, backend)),
	}, nil
}

// Close stops remaining sessions and closes the store
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return errors.Join(a.manager.Close(ctx), a.store.Close())
}

func withApp(run func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return run(cmd.Context(), a, args)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type startFlags struct {
	name       string
	noFiles    bool
	noWindows  bool
	commandLog string
}

func (f *startFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.name, "name", "n", "", "project name (default: directory name)")
	cmd.Flags().BoolVar(&f.noFiles, "no-files", false, "do not watch files")
	cmd.Flags().BoolVar(&f.noWindows, "no-windows", false, "do not track window focus")
	cmd.Flags().StringVar(&f.commandLog, "command-log", "", "ingest commands appended to this JSONL file by a shell hook")
}

func (f *startFlags) start(ctx context.Context, a *app, path string) (*store.Session, error) {
	opts := session.DefaultOptions()
	opts.WatchFiles = !f.noFiles
	opts.TrackWindows = !f.noWindows && config.Global().Window.Enabled
	if f.commandLog != "" {
		opts.Metadata = map[string]any{"command_log": f.commandLog}
	}

	res, err := a.manager.Start(ctx, f.name, path, opts)
	if err != nil {
		return nil, err
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	return res.Session, nil
}

func recordCmd() *cobra.Command {
	var flags startFlags

	cmd := &cobra.Command{
		Use:   "record <project-path>",
		Short: "Record a session until interrupted",
		Long: `Start a session over a project directory and record file changes,
window focus and shell commands until Ctrl-C.

Commands reach the session through the HTTP API or a command log:
  devsession-mon record . --command-log ~/.devsession/commands.jsonl
and, from a shell hook after each command:
  devsession-mon log-command --log ~/.devsession/commands.jsonl --exit-code $? -- "$cmd"`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(func(_ context.Context, a *app, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			sess, err := flags.start(ctx, a, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Recording session %s (%s)\n", sess.ID, sess.ProjectPath)
			fmt.Println("Press Ctrl-C to stop.")

			g, gctx := errgroup.WithContext(ctx)
			if flags.commandLog != "" {
				g.Go(func() error {
					return a.manager.TailCommandLog(gctx, sess.ID, flags.commandLog)
				})
			}
			g.Go(func() error {
				<-gctx.Done()
				return nil
			})
			runErr := g.Wait()

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			done, err := a.manager.Stop(stopCtx, sess.ID, false)
			if err != nil {
				return errors.Join(runErr, err)
			}
			printSummary(stopCtx, a, done)
			return runErr
		}),
	}
	flags.register(cmd)
	return cmd
}

func printSummary(ctx context.Context, a *app, sess *store.Session) {
	stats, err := a.manager.GetSessionStats(ctx, sess.ID)
	if err != nil {
		return
	}
	fmt.Printf("\nSession %s completed after %s\n", sess.ID, sess.Duration(time.Now()).Truncate(time.Second))
	fmt.Printf("  Files:    %d\n", stats.FileEvents)
	fmt.Printf("  Windows:  %d\n", stats.WindowEvents)
	fmt.Printf("  Commands: %d (%d failed)\n", stats.CommandEvents, stats.FailedCommands)
}

func monitorCmd() *cobra.Command {
	var flags startFlags

	cmd := &cobra.Command{
		Use:   "monitor [project-path]",
		Short: "Watch sessions in a terminal UI",
		Long: `Open the terminal monitor. With a project path, a session is started
over it first and stopped when the monitor exits.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Global()
			// the UI owns the terminal, so logs go to a file
			logPath := cfg.LogFile
			if logPath == "" {
				logPath = filepath.Join(config.DataDir(), "devsession_mon.log")
			}
			if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
				return err
			}
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer logFile.Close()
			logging.Init(cfg.LogLevel, logFile)

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()

			live, unsubscribe := a.manager.Subscribe(256)
			defer unsubscribe()

			var focus string
			if len(args) == 1 {
				sess, err := flags.start(ctx, a, args[0])
				if err != nil {
					return err
				}
				focus = sess.ID
				if flags.commandLog != "" {
					go func() {
						if err := a.manager.TailCommandLog(ctx, sess.ID, flags.commandLog); err != nil {
							logging.For("main").Warn("command log stopped", "error", err)
						}
					}()
				}
			}

			model := tui.NewModel(a.manager, tui.ModelOptions{
				Live:  live,
				Focus: focus,
				Theme: cfg.Theme,
			})
			p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
			_, runErr := p.Run()
			if errors.Is(runErr, tea.ErrProgramKilled) {
				runErr = nil
			}
			cancel()

			if focus != "" {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer stopCancel()
				if _, err := a.manager.Stop(stopCtx, focus, true); err != nil {
					return errors.Join(runErr, err)
				}
				fmt.Printf("Session %s stopped\n", focus)
			}
			return runErr
		},
	}
	flags.register(cmd)
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve session operations over HTTP.

Examples:
  devsession-mon serve
  devsession-mon serve --addr :8765`,
		RunE: withApp(func(_ context.Context, a *app, _ []string) error {
			if addr == "" {
				addr = config.Global().ListenAddr
			}
			ctx, cancel := signalContext()
			defer cancel()

			fmt.Printf("Listening on http://%s\n", addr)
			return api.NewServer(a.manager).Run(ctx, addr)
		}),
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func sessionsCmd() *cobra.Command {
	var (
		status string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions",
		RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
			st := store.SessionStatus(status)
			switch st {
			case "", store.StatusActive, store.StatusCompleted:
			default:
				return fmt.Errorf("unknown status %q (want active or completed)", status)
			}

			sessions, err := a.manager.ListSessions(ctx, st)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(os.Stdout, sessions)
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions found")
				return nil
			}

			now := time.Now()
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPROJECT\tSTATUS\tSTARTED\tDURATION")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					s.ID,
					s.ProjectName,
					s.Status,
					s.StartTime.Local().Format(time.DateTime),
					s.Duration(now).Truncate(time.Second),
				)
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "filter by status (active, completed)")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}

func reportsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "reports <session-id>",
		Short: "List reports saved for a session",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			reports, err := a.manager.ListReports(ctx, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(os.Stdout, reports)
			}
			if len(reports) == 0 {
				fmt.Println("No saved reports")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tFORMAT\tGENERATED\tTITLE")
			for _, r := range reports {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
					r.ID, r.Type, r.Format, r.GeneratedAt.Local().Format(time.DateTime), r.Title)
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}

func eventsCmd() *cobra.Command {
	var (
		types []string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "events <session-id>",
		Short: "Print a session's events as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			var kinds []store.EventKind
			for _, t := range types {
				kind, ok := store.ParseEventKind(strings.TrimSpace(t))
				if !ok {
					return fmt.Errorf("unknown event type %q (want file, window or command)", t)
				}
				kinds = append(kinds, kind)
			}
			events, err := a.manager.GetSessionEvents(ctx, args[0], kinds, limit)
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, events)
		}),
	}
	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "filter by event type (file, window, command)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum events (0 for all)")
	return cmd
}

func reportCmd() *cobra.Command {
	var (
		opts   report.Options
		output string
		noAI   bool
	)

	cmd := &cobra.Command{
		Use:   "report <session-id>",
		Short: "Generate a session report",
		Long: `Generate a summary, detailed, errors or comprehensive report.

Examples:
  devsession-mon report 2f1c... --type errors --no-ai
  devsession-mon report 2f1c... --type comprehensive --format html -o report.html`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if opts.Format == "" {
				opts.Format = config.Global().Report.DefaultFormat
			}
			if noAI {
				off := false
				opts.IncludeAI = &off
			}
			r, err := a.manager.GenerateReport(ctx, args[0], opts)
			if err != nil {
				return err
			}
			out, err := report.Export(r, opts.Format)
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				fmt.Println(out)
			} else if err := os.WriteFile(output, []byte(out), 0o644); err != nil {
				return err
			} else {
				fmt.Fprintf(os.Stderr, "Wrote %s\n", output)
			}
			if r.StoredID != 0 {
				fmt.Fprintf(os.Stderr, "Saved as report %d\n", r.StoredID)
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&opts.Type, "type", "t", "", "report type (summary, detailed, errors, comprehensive)")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "", "output format (json, markdown, html)")
	cmd.Flags().BoolVar(&noAI, "no-ai", false, "skip model summaries of failed commands")
	cmd.Flags().IntVar(&opts.MaxAISamples, "ai-samples", 0, "maximum failed commands to summarize")
	cmd.Flags().BoolVar(&opts.Persist, "save", false, "store the rendered report with the session")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func analyzeCmd() *cobra.Command {
	var (
		lc       summarize.LogContext
		exitCode int
	)

	cmd := &cobra.Command{
		Use:   "analyze [file]",
		Short: "Summarize a log or command output",
		Long: `Analyze log text from a file, or stdin when no file is given.

Examples:
  go test ./... 2>&1 | devsession-mon analyze --command "go test ./..." --exit-code 1
  devsession-mon analyze build.log --session 2f1c...`,
		Args: cobra.MaximumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			var (
				data []byte
				err  error
			)
			if len(args) == 1 {
				data, err = os.ReadFile(args[0])
				lc.Source = args[0]
			} else {
				data, err = io.ReadAll(os.Stdin)
				lc.Source = "stdin"
			}
			if err != nil {
				return err
			}
			if strings.TrimSpace(string(data)) == "" {
				return errors.New("nothing to analyze")
			}
			if lc.Command != "" || exitCode != 0 {
				lc.ExitCode = &exitCode
			}

			analysis, err := a.manager.AnalyzeLog(ctx, string(data), lc)
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, analysis)
		}),
	}
	cmd.Flags().StringVarP(&lc.Command, "command", "c", "", "command that produced the output")
	cmd.Flags().IntVar(&exitCode, "exit-code", 0, "exit code of the command")
	cmd.Flags().StringVar(&lc.WorkingDir, "cwd", "", "working directory of the command")
	cmd.Flags().StringVar(&lc.SessionID, "session", "", "store the analysis with this session")
	return cmd
}

func purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge <session-id>",
		Short: "Delete a session and everything recorded for it",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if err := a.manager.Purge(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Purged session %s\n", args[0])
			return nil
		}),
	}
}

func logCommandCmd() *cobra.Command {
	var (
		rec     session.CommandRecord
		logPath string
		startMS int64
	)

	cmd := &cobra.Command{
		Use:   "log-command [flags] -- <command>",
		Short: "Append a finished command to a command log",
		Long: `Append one command to a JSONL command log that a recording session
is tailing. Meant to be called from a shell hook, for example in zsh:

  preexec() { __dsm_start=$(date +%s%3N) }
  precmd()  { devsession-mon log-command --log ~/.devsession/commands.jsonl \
                --exit-code $? --start $__dsm_start --shell zsh -- "$(fc -ln -1)" }`,
		Args: cobra.MinimumNArgs(1),
		// no store or config needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(_ *cobra.Command, args []string) error {
			rec.Command = strings.Join(args, " ")
			if rec.WorkingDir == "" {
				rec.WorkingDir, _ = os.Getwd()
			}
			rec.EndTime = time.Now()
			if startMS > 0 {
				rec.StartTime = time.UnixMilli(startMS)
			} else {
				rec.StartTime = rec.EndTime
			}
			return session.AppendCommandLog(logPath, rec)
		},
	}
	cmd.Flags().StringVar(&logPath, "log", "", "command log path")
	cmd.Flags().IntVar(&rec.ExitCode, "exit-code", 0, "exit code of the command")
	cmd.Flags().StringVar(&rec.Shell, "shell", filepath.Base(os.Getenv("SHELL")), "shell name")
	cmd.Flags().StringVar(&rec.WorkingDir, "cwd", "", "working directory (default: current)")
	cmd.Flags().Int64Var(&startMS, "start", 0, "start time in unix milliseconds")
	cmd.Flags().StringVar(&rec.Stderr, "stderr", "", "captured stderr, if any")
	_ = cmd.MarkFlagRequired("log")
	return cmd
}
