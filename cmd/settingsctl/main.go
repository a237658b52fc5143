package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yussieik/pazpaz-sub021/internal/audit"
	"github.com/yussieik/pazpaz-sub021/internal/config"
	"github.com/yussieik/pazpaz-sub021/internal/events"
	"github.com/yussieik/pazpaz-sub021/internal/models"
	"github.com/yussieik/pazpaz-sub021/internal/pazapi"
	"github.com/yussieik/pazpaz-sub021/internal/session"
)

var (
	// Global flags
	cfgPath string
	verbose bool

	// show
	jsonOut     bool
	showRefresh bool

	// export
	exportOut       string
	exportMonth     string
	exportWorkspace string

	// log
	logLimit int
	logType  string

	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "settingsctl",
	Short: "Manage PazPaz notification settings from the terminal",
	Long: `settingsctl loads, edits and saves a user's notification settings
through the PazPaz API.

In edit mode, changes are written back automatically after a quiet period,
the same way the web client saves. Every lifecycle step lands in a local
audit journal that can be exported to xlsx.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; real deployments set the variables directly
		_ = godotenv.Load()

		output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		logger = zerolog.New(output).With().Timestamp().Logger()
		if verbose {
			logger = logger.Level(zerolog.DebugLevel)
		} else {
			logger = logger.Level(zerolog.InfoLevel)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Load and print the current settings record",
	RunE:  runShow,
}

var setCmd = &cobra.Command{
	Use:   "set field=value [field=value ...]",
	Short: "Apply edits and save immediately",
	Long: `Applies one or more field edits and forces a save, skipping the
auto-save quiet period.

Toggles take true or false, times take HH:MM or none, reminder_minutes takes
a number of minutes or none. Fields this build does not know yet are kept as
extended settings.

Example:
  settingsctl set email_enabled=false digest_time=08:30`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSet,
}

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Interactive session with debounced auto-save",
	Long: `Starts an interactive editing session. Edits are written back
automatically once input goes quiet; quitting flushes anything still
pending.

Commands inside the session:
  set <field> <value>   edit one field
  show                  print the current record
  save                  force a save now
  status                print session state
  quit                  flush pending edits and exit`,
	RunE: runEdit,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the audit journal to an xlsx workbook",
	RunE:  runExport,
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete audit entries older than the retention window",
	RunE:  runPurge,
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the audit journal and prune expired snapshots",
	RunE:  runBackup,
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Print recent audit journal entries",
	RunE:  runLog,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Config file (default configs/config.yaml or $SETTINGSCTL_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	showCmd.Flags().BoolVar(&jsonOut, "json", false, "Print the record as JSON")
	showCmd.Flags().BoolVar(&showRefresh, "refresh", false, "Drop the cached record and fetch from the API")

	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output path (default under audit.export_dir)")
	exportCmd.Flags().StringVar(&exportMonth, "month", "", "Restrict to one month (YYYY-MM)")
	exportCmd.Flags().StringVar(&exportWorkspace, "workspace", "", "Restrict to one workspace")

	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 20, "Maximum entries to print")
	logCmd.Flags().StringVar(&logType, "type", "", "Only one event type (e.g. settings.saved)")

	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(logCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// consoleNotifier surfaces controller toasts on the terminal.
type consoleNotifier struct {
	out    io.Writer
	errOut io.Writer
}

func (n *consoleNotifier) ShowError(message string) {
	fmt.Fprintf(n.errOut, "✗ %s\n", message)
}

func (n *consoleNotifier) ShowSuccess(message string) {
	fmt.Fprintf(n.out, "✓ %s\n", message)
}

// app wires the session stack for one CLI invocation.
type app struct {
	cfg     *config.Config
	client  *pazapi.Client
	rdb     *redis.Client
	bus     *events.EventBus
	journal *audit.Store
	ctrl    *session.Controller
}

func newApp(scheduler session.Scheduler) (*app, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.API.BaseURL == "" {
		return nil, fmt.Errorf("set api.base_url in config")
	}

	client := pazapi.NewClient(cfg.API.BaseURL, cfg.API.Token, cfg.API.WorkspaceID, cfg.APITimeout())
	a := &app{cfg: cfg, client: client}

	if cfg.Redis.Enabled && cfg.Redis.Address != "" {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		client.UseRedisCache(a.rdb, cfg.CacheTTL())
	}
	if cfg.API.WriteRPS > 0 {
		client.UseWriteLimit(cfg.API.WriteRPS, cfg.API.WriteBurst)
	}

	notifier := &consoleNotifier{out: os.Stdout, errOut: os.Stderr}
	ctrl := session.NewController(&session.Config{
		DebounceInterval: cfg.DebounceInterval(),
		RemoteTimeout:    cfg.RemoteTimeout(),
		WorkspaceID:      cfg.API.WorkspaceID,
	}, client, notifier, scheduler, logger)

	if cfg.Audit.Enabled {
		journal, err := audit.NewStore(cfg.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("open audit journal: %w", err)
		}
		bus := events.NewEventBus()
		audit.NewRecorder(journal, logger).Attach(bus)
		ctrl.UseEventBus(bus)
		a.journal = journal
		a.bus = bus
	}

	a.ctrl = ctrl
	return a, nil
}

func (a *app) Close() {
	_ = a.ctrl.Close()
	if a.journal != nil {
		_ = a.journal.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}

// flush writes any still-pending edits before exit.
func (a *app) flush() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.RemoteTimeout())
	defer cancel()
	if err := a.ctrl.Flush(ctx); err != nil {
		return fmt.Errorf("flush pending edits: %w", err)
	}
	return nil
}

func configPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	return os.Getenv("SETTINGSCTL_CONFIG")
}

func runShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(session.NopScheduler{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.RemoteTimeout())
	defer cancel()
	if showRefresh {
		a.client.InvalidateCache(ctx)
	}
	if err := a.ctrl.Load(ctx); err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	record := a.ctrl.Settings()
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	}

	printRecord(os.Stdout, record)
	fmt.Println()
	printStatus(os.Stdout, a.ctrl)
	return nil
}

func runSet(cmd *cobra.Command, args []string) error {
	setters := make([]func(*models.NotificationSettings), 0, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("expected field=value, got %q", arg)
		}
		set, err := settingSetter(strings.TrimSpace(key), strings.TrimSpace(value))
		if err != nil {
			return err
		}
		setters = append(setters, set)
	}

	a, err := newApp(session.NopScheduler{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.RemoteTimeout())
	defer cancel()
	if err := a.ctrl.Load(ctx); err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	changed := a.ctrl.Apply(func(s *models.NotificationSettings) {
		for _, set := range setters {
			set(s)
		}
	})
	if !changed {
		fmt.Println("No changes.")
		return nil
	}

	saveCtx, cancelSave := context.WithTimeout(cmd.Context(), a.cfg.RemoteTimeout())
	defer cancelSave()
	if err := a.ctrl.SaveNow(saveCtx); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func runEdit(cmd *cobra.Command, args []string) error {
	// nil picks the timer scheduler with the configured quiet period
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.cfg.Monitoring.HealthCheckPort == 0 {
		a.cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, a.cfg.Monitoring.HealthCheckPort, a)

	if a.cfg.Monitoring.PrometheusEnabled {
		if a.cfg.Monitoring.PrometheusPort == 0 {
			a.cfg.Monitoring.PrometheusPort = 9090
		}
		a.ctrl.UseMetrics(session.NewMetrics("pazpaz"))
		go startMetricsServer(ctx, a.cfg.Monitoring.PrometheusPort)
	}

	loadCtx, cancel := context.WithTimeout(ctx, a.cfg.RemoteTimeout())
	err = a.ctrl.Load(loadCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	printRecord(os.Stdout, a.ctrl.Settings())
	fmt.Println("\nType set <field> <value>, show, save, status or quit.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			fmt.Println()
			return a.flush()
		case line, ok := <-lines:
			if !ok {
				return a.flush()
			}
			if a.handleEditLine(strings.TrimSpace(line)) {
				return a.flush()
			}
		}
	}
}

// handleEditLine runs one interactive command, reporting whether the session
// should end.
func (a *app) handleEditLine(line string) (quit bool) {
	if line == "" {
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "quit", "exit", "q":
		return true
	case "show":
		printRecord(os.Stdout, a.ctrl.Settings())
		return false
	case "status":
		printStatus(os.Stdout, a.ctrl)
		return false
	case "save":
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.RemoteTimeout())
		defer cancel()
		// outcome reaches the terminal through the notifier
		_ = a.ctrl.SaveNow(ctx)
		return false
	case "set":
		if len(fields) != 3 {
			fmt.Println("usage: set <field> <value>")
			return false
		}
		set, err := settingSetter(fields[1], fields[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "✗ %v\n", err)
			return false
		}
		if !a.ctrl.Apply(func(s *models.NotificationSettings) { set(s) }) {
			fmt.Println("No change.")
		}
		return false
	default:
		fmt.Println("Commands: set <field> <value>, show, save, status, quit")
		return false
	}
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	journal, err := audit.NewStore(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("open audit journal: %w", err)
	}
	defer journal.Close()

	filter := audit.Filter{WorkspaceID: exportWorkspace}
	target := time.Now()
	if exportMonth != "" {
		month, err := time.Parse("2006-01", exportMonth)
		if err != nil {
			return fmt.Errorf("invalid --month %q, want YYYY-MM", exportMonth)
		}
		until := month.AddDate(0, 1, 0)
		filter.Since, filter.Until = &month, &until
		target = month
	}

	out := exportOut
	if out == "" {
		if err := os.MkdirAll(cfg.Audit.ExportDir, 0o755); err != nil {
			return fmt.Errorf("create export dir: %w", err)
		}
		out = filepath.Join(cfg.Audit.ExportDir, audit.Filename(target))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()
	if err := audit.NewExporter(journal, nil, logger).ExportToFile(ctx, out, filter); err != nil {
		return fmt.Errorf("export audit journal: %w", err)
	}
	fmt.Printf("Exported audit journal to %s\n", out)
	return nil
}

func runPurge(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	journal, err := audit.NewStore(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("open audit journal: %w", err)
	}
	defer journal.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()
	deleted, err := journal.Purge(ctx, cfg.AuditRetention())
	if err != nil {
		return fmt.Errorf("purge audit journal: %w", err)
	}
	fmt.Printf("Deleted %d entries older than %d days\n", deleted, int(cfg.AuditRetention().Hours()/24))
	return nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	backups := audit.NewBackups(cfg.Audit.Path, cfg.Audit.BackupDir, cfg.AuditRetention(), logger)
	path, err := backups.Run()
	if err != nil {
		return fmt.Errorf("backup audit journal: %w", err)
	}
	fmt.Printf("Backed up audit journal to %s\n", path)
	return nil
}

func runLog(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	journal, err := audit.NewStore(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("open audit journal: %w", err)
	}
	defer journal.Close()

	filter := audit.Filter{Limit: logLimit}
	if logType != "" {
		filter.EventTypes = []string{logType}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()
	entries, err := journal.List(ctx, filter)
	if err != nil {
		return fmt.Errorf("list audit entries: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("Journal is empty.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tEVENT\tTRIGGER\tFIELDS\tDETAIL")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.OccurredAt.Format("2006-01-02 15:04:05"),
			e.EventType,
			e.Trigger,
			strings.Join(e.ChangedFields, ","),
			e.Detail,
		)
	}
	return tw.Flush()
}

func printRecord(w io.Writer, record *models.NotificationSettings) {
	if record == nil {
		fmt.Fprintln(w, "No settings loaded.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "email_enabled\t%v\n", record.EmailEnabled)
	fmt.Fprintf(tw, "notify_appointment_booked\t%v\n", record.NotifyAppointmentBooked)
	fmt.Fprintf(tw, "notify_appointment_cancelled\t%v\n", record.NotifyAppointmentCancelled)
	fmt.Fprintf(tw, "notify_appointment_rescheduled\t%v\n", record.NotifyAppointmentRescheduled)
	fmt.Fprintf(tw, "notify_appointment_confirmed\t%v\n", record.NotifyAppointmentConfirmed)
	fmt.Fprintf(tw, "digest_enabled\t%v\n", record.DigestEnabled)
	fmt.Fprintf(tw, "digest_skip_weekends\t%v\n", record.DigestSkipWeekends)
	fmt.Fprintf(tw, "digest_time\t%s\n", orNone(record.DigestTime))
	fmt.Fprintf(tw, "reminder_enabled\t%v\n", record.ReminderEnabled)
	fmt.Fprintf(tw, "reminder_minutes\t%s\n", orNoneInt(record.ReminderMinutes))
	fmt.Fprintf(tw, "notes_reminder_enabled\t%v\n", record.NotesReminderEnabled)
	fmt.Fprintf(tw, "notes_reminder_time\t%s\n", orNone(record.NotesReminderTime))

	if len(record.Extended) > 0 {
		keys := make([]string, 0, len(record.Extended))
		for k := range record.Extended {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(tw, "%s\t%v\n", k, record.Extended[k])
		}
	}
	if !record.UpdatedAt.IsZero() {
		fmt.Fprintf(tw, "updated_at\t%s\n", record.UpdatedAt.Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func printStatus(w io.Writer, ctrl *session.Controller) {
	st := ctrl.Status()
	fmt.Fprintf(w, "loading=%v saving=%v dirty=%v", st.Loading, st.Saving, st.Dirty)
	if label := ctrl.LastSavedLabel(); label != "" {
		fmt.Fprintf(w, " last_saved=%q", label)
	}
	if st.Err != "" {
		fmt.Fprintf(w, " error=%q", st.Err)
	}
	fmt.Fprintln(w)
}

func orNone(v *string) string {
	if v == nil {
		return "none"
	}
	return *v
}

func orNoneInt(v *int) string {
	if v == nil {
		return "none"
	}
	return strconv.Itoa(*v)
}

func startHealthServer(ctx context.Context, port int, a *app) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := a.client.HealthCheck(ctxPing); err != nil {
			http.Error(w, "api not ready", http.StatusServiceUnavailable)
			return
		}
		if a.journal != nil {
			if err := a.journal.Ping(ctxPing); err != nil {
				http.Error(w, "audit journal not ready", http.StatusServiceUnavailable)
				return
			}
		}
		if a.rdb != nil {
			if err := a.rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
