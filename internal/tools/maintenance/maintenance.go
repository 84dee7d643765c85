// Package maintenance inspects and repairs the canvas event queue and stores.
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/louisbranch/pixelwall/internal/platform/config"
	platformgrpc "github.com/louisbranch/pixelwall/internal/platform/grpc"
	"github.com/louisbranch/pixelwall/internal/platform/logging"
	"github.com/louisbranch/pixelwall/internal/platform/timeouts"
	canvasworker "github.com/louisbranch/pixelwall/internal/services/canvas/app"
	"github.com/louisbranch/pixelwall/internal/services/canvas/domain"
	"github.com/louisbranch/pixelwall/internal/services/canvas/ingest"
	"github.com/louisbranch/pixelwall/internal/services/canvas/replies"
	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
	"github.com/louisbranch/pixelwall/internal/services/canvas/storage/sqlite"
)

// Config holds maintenance command configuration.
type Config struct {
	DBPath           string        `env:"PIXELWALL_WORKER_DB_PATH"`
	Timeout          time.Duration `env:"PIXELWALL_MAINTENANCE_TIMEOUT" envDefault:"10m"`
	AdminRoleIDs     string        `env:"PIXELWALL_ADMIN_ROLE_IDS"`
	Locale           string        `env:"PIXELWALL_LOCALE" envDefault:"en"`
	JSONOutput       bool
	Report           bool
	Status           string
	Limit            int
	Requeue          bool
	EventID          string
	RequeueDead      bool
	RequeueDeadLimit int
	Submit           string
	CallerID         string
	CallerName       string
	CallerRoles      string
	Attempts         bool
	Manifests        bool
	PurgeCounters    bool
	HealthAddr       string
}

type envConfig struct {
	DBPath       string        `env:"PIXELWALL_WORKER_DB_PATH"`
	Timeout      time.Duration `env:"PIXELWALL_MAINTENANCE_TIMEOUT" envDefault:"10m"`
	AdminRoleIDs string        `env:"PIXELWALL_ADMIN_ROLE_IDS"`
	Locale       string        `env:"PIXELWALL_LOCALE" envDefault:"en"`
}

// ParseConfig parses env and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var envCfg envConfig
	if err := env.Parse(&envCfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := Config{
		DBPath:       envCfg.DBPath,
		Timeout:      envCfg.Timeout,
		AdminRoleIDs: envCfg.AdminRoleIDs,
		Locale:       envCfg.Locale,
		Limit:        50,
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "canvas.db")
	}

	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "path to the canvas sqlite database (default: PIXELWALL_WORKER_DB_PATH or data/canvas.db)")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON reports")
	fs.BoolVar(&cfg.Report, "report", false, "report event queue depth and rows")
	fs.StringVar(&cfg.Status, "status", "", "optional queue status filter (pending|processing|failed|dead)")
	fs.IntVar(&cfg.Limit, "limit", cfg.Limit, "max rows to print/list")
	fs.BoolVar(&cfg.Requeue, "requeue", false, "requeue one dead event")
	fs.StringVar(&cfg.EventID, "event-id", "", "event id for -requeue")
	fs.BoolVar(&cfg.RequeueDead, "requeue-dead", false, "requeue a bounded batch of dead events")
	fs.IntVar(&cfg.RequeueDeadLimit, "requeue-dead-limit", 0, "max dead events to requeue (required with -requeue-dead)")
	fs.StringVar(&cfg.Submit, "submit", "", "path to a JSON event to submit through ingest (- for stdin)")
	fs.StringVar(&cfg.CallerID, "caller-id", "maintenance", "caller id for -submit")
	fs.StringVar(&cfg.CallerName, "caller-name", "maintenance", "caller display name for -submit")
	fs.StringVar(&cfg.CallerRoles, "caller-roles", "", "comma-separated caller role ids for -submit")
	fs.BoolVar(&cfg.Attempts, "attempts", false, "list recent delivery attempts")
	fs.BoolVar(&cfg.Manifests, "manifests", false, "list recent snapshot manifests")
	fs.BoolVar(&cfg.PurgeCounters, "purge-counters", false, "delete expired sqlite rate counters")
	fs.StringVar(&cfg.HealthAddr, "health-addr", "", "probe the worker health server at this address")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) modes() []string {
	var modes []string
	add := func(enabled bool, name string) {
		if enabled {
			modes = append(modes, name)
		}
	}
	add(c.Report, "-report")
	add(c.Requeue, "-requeue")
	add(c.RequeueDead, "-requeue-dead")
	add(strings.TrimSpace(c.Submit) != "", "-submit")
	add(c.Attempts, "-attempts")
	add(c.Manifests, "-manifests")
	add(c.PurgeCounters, "-purge-counters")
	add(strings.TrimSpace(c.HealthAddr) != "", "-health-addr")
	return modes
}

// Run executes the selected maintenance mode.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}

	modes := cfg.modes()
	switch len(modes) {
	case 0:
		return errors.New("one of -report, -requeue, -requeue-dead, -submit, -attempts, -manifests, -purge-counters, or -health-addr is required")
	case 1:
	default:
		return fmt.Errorf("%s cannot be combined", strings.Join(modes, " and "))
	}

	if addr := strings.TrimSpace(cfg.HealthAddr); addr != "" {
		return runHealthProbe(ctx, addr, cfg.JSONOutput, out)
	}
	if cfg.Requeue && strings.TrimSpace(cfg.EventID) == "" {
		return errors.New("-event-id is required with -requeue")
	}
	if cfg.RequeueDead && cfg.RequeueDeadLimit <= 0 {
		return errors.New("-requeue-dead-limit must be > 0")
	}
	if (cfg.Report || cfg.Attempts || cfg.Manifests) && cfg.Limit <= 0 {
		return errors.New("-limit must be > 0")
	}

	store, err := openCanvasStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			fmt.Fprintf(errOut, "Error: close canvas store: %v\n", closeErr)
		}
	}()

	now := time.Now().UTC()
	switch {
	case cfg.Report:
		return runQueueReport(ctx, store, cfg.Status, cfg.Limit, cfg.JSONOutput, out)
	case cfg.Requeue:
		return runRequeue(ctx, store, cfg.EventID, now, cfg.JSONOutput, out)
	case cfg.RequeueDead:
		return runRequeueDead(ctx, store, cfg.RequeueDeadLimit, now, cfg.JSONOutput, out)
	case cfg.Attempts:
		return runAttempts(ctx, store, cfg.Limit, cfg.JSONOutput, out)
	case cfg.Manifests:
		return runManifests(ctx, store, cfg.Limit, cfg.JSONOutput, out)
	case cfg.PurgeCounters:
		return runPurgeCounters(ctx, store, now, cfg.JSONOutput, out)
	default:
		data, err := readEventFile(cfg.Submit)
		if err != nil {
			return err
		}
		svc := ingest.NewService(ingest.Config{
			Queue:      store,
			Authorizer: ingest.NewRoleAuthorizer(config.SplitList(cfg.AdminRoleIDs)),
			Refusals:   replies.New(cfg.Locale),
			Logger:     logging.Discard(),
		})
		caller := ingest.Caller{
			ID:      strings.TrimSpace(cfg.CallerID),
			Name:    strings.TrimSpace(cfg.CallerName),
			RoleIDs: config.SplitList(cfg.CallerRoles),
		}
		return runSubmit(ctx, svc, caller, data, cfg.JSONOutput, out)
	}
}

func openCanvasStore(path string) (*sqlite.Store, error) {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == "" {
		return nil, fmt.Errorf("canvas db path is required")
	}
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("open canvas store: %w", err)
	}
	return store, nil
}

func readEventFile(path string) ([]byte, error) {
	path = strings.TrimSpace(path)
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read event from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event file: %w", err)
	}
	return data, nil
}

func writeJSON(out io.Writer, value any, what string) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", what, err)
	}
	fmt.Fprintln(out, string(encoded))
	return nil
}

type queueRow struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	Status        string    `json:"status"`
	AttemptCount  int       `json:"attemptCount"`
	NextAttemptAt time.Time `json:"nextAttemptAt"`
	LastError     string    `json:"lastError,omitempty"`
}

type queueReport struct {
	Mode    string               `json:"mode"`
	Status  string               `json:"status,omitempty"`
	Limit   int                  `json:"limit"`
	Summary storage.QueueSummary `json:"summary"`
	Rows    []queueRow           `json:"rows"`
}

type requeueResult struct {
	Mode     string `json:"mode"`
	EventID  string `json:"eventId"`
	Requeued bool   `json:"requeued"`
}

type requeueDeadResult struct {
	Mode     string `json:"mode"`
	Limit    int    `json:"limit"`
	Requeued int    `json:"requeued"`
}

type submitResult struct {
	Mode      string `json:"mode"`
	EventID   string `json:"eventId,omitempty"`
	Queued    bool   `json:"queued"`
	Duplicate bool   `json:"duplicate"`
	Refused   bool   `json:"refused"`
}

type purgeResult struct {
	Mode   string `json:"mode"`
	Purged int64  `json:"purged"`
}

type healthResult struct {
	Mode    string `json:"mode"`
	Addr    string `json:"addr"`
	Serving bool   `json:"serving"`
}

func runQueueReport(ctx context.Context, inspector queueInspector, status string, limit int, jsonOutput bool, out io.Writer) error {
	if inspector == nil {
		return fmt.Errorf("queue inspector is not configured")
	}
	if limit <= 0 {
		return fmt.Errorf("queue limit must be > 0")
	}
	filter, err := storage.ParseQueueStatus(strings.ToLower(strings.TrimSpace(status)))
	if err != nil {
		return err
	}

	summary, err := inspector.Summary(ctx)
	if err != nil {
		return fmt.Errorf("read queue summary: %w", err)
	}
	events, err := inspector.List(ctx, filter, limit)
	if err != nil {
		return fmt.Errorf("list queue rows: %w", err)
	}
	rows := make([]queueRow, 0, len(events))
	for _, evt := range events {
		rows = append(rows, queueRow{
			ID:            evt.ID,
			Kind:          evt.Kind,
			Status:        string(evt.Status),
			AttemptCount:  evt.AttemptCount,
			NextAttemptAt: evt.NextAttemptAt,
			LastError:     evt.LastError,
		})
	}

	if jsonOutput {
		return writeJSON(out, queueReport{
			Mode:    "queue",
			Status:  string(filter),
			Limit:   limit,
			Summary: summary,
			Rows:    rows,
		}, "queue report")
	}

	fmt.Fprintf(
		out,
		"Queue summary: pending=%d processing=%d failed=%d dead=%d\n",
		summary.PendingCount,
		summary.ProcessingCount,
		summary.FailedCount,
		summary.DeadCount,
	)
	if summary.OldestPendingID == "" || summary.OldestPendingAt.IsZero() {
		fmt.Fprintln(out, "Oldest pending/failed row: none")
	} else {
		fmt.Fprintf(
			out,
			"Oldest pending/failed row: %s next_attempt_at=%s\n",
			summary.OldestPendingID,
			summary.OldestPendingAt.Format(time.RFC3339),
		)
	}
	if filter == "" {
		fmt.Fprintf(out, "Rows (all statuses, limit=%d):\n", limit)
	} else {
		fmt.Fprintf(out, "Rows (status=%s, limit=%d):\n", filter, limit)
	}
	for _, row := range rows {
		fmt.Fprintf(
			out,
			"- %s status=%s attempts=%d next_attempt_at=%s kind=%s\n",
			row.ID,
			row.Status,
			row.AttemptCount,
			row.NextAttemptAt.Format(time.RFC3339),
			row.Kind,
		)
		if strings.TrimSpace(row.LastError) != "" {
			fmt.Fprintf(out, "  last_error=%s\n", row.LastError)
		}
	}
	return nil
}

func runRequeue(ctx context.Context, requeuer queueRequeuer, eventID string, now time.Time, jsonOutput bool, out io.Writer) error {
	if requeuer == nil {
		return fmt.Errorf("queue requeuer is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("event id is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	requeued, err := requeuer.Requeue(ctx, eventID, now)
	if err != nil {
		return fmt.Errorf("requeue event: %w", err)
	}
	if !requeued {
		return fmt.Errorf("dead event not found for %s", eventID)
	}
	if jsonOutput {
		return writeJSON(out, requeueResult{Mode: "requeue", EventID: eventID, Requeued: true}, "requeue report")
	}
	fmt.Fprintf(out, "Requeued event: %s\n", eventID)
	return nil
}

func runRequeueDead(ctx context.Context, requeuer queueRequeuer, limit int, now time.Time, jsonOutput bool, out io.Writer) error {
	if requeuer == nil {
		return fmt.Errorf("queue requeuer is not configured")
	}
	if limit <= 0 {
		return fmt.Errorf("requeue limit must be > 0")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	requeued, err := requeuer.RequeueDead(ctx, limit, now)
	if err != nil {
		return fmt.Errorf("requeue dead events: %w", err)
	}
	if jsonOutput {
		return writeJSON(out, requeueDeadResult{Mode: "requeue-dead", Limit: limit, Requeued: requeued}, "dead requeue report")
	}
	fmt.Fprintf(out, "Requeued dead events: %d (limit=%d)\n", requeued, limit)
	return nil
}

func runSubmit(ctx context.Context, svc eventSubmitter, caller ingest.Caller, data []byte, jsonOutput bool, out io.Writer) error {
	if svc == nil {
		return fmt.Errorf("submitter is not configured")
	}
	evt, err := domain.ParseEventJSON(data)
	if err != nil {
		return err
	}
	result, err := svc.Submit(ctx, caller, evt)
	if err != nil {
		return fmt.Errorf("submit event: %w", err)
	}
	if jsonOutput {
		return writeJSON(out, submitResult{
			Mode:      "submit",
			EventID:   result.EventID,
			Queued:    result.Queued,
			Duplicate: result.Duplicate,
			Refused:   result.Refused,
		}, "submit report")
	}
	switch {
	case result.Refused:
		fmt.Fprintf(out, "Refused %s command for caller %s\n", evt.Kind, caller.ID)
	case result.Duplicate:
		fmt.Fprintf(out, "Duplicate event ignored: %s\n", result.EventID)
	default:
		fmt.Fprintf(out, "Queued %s event: %s\n", evt.Kind, result.EventID)
	}
	return nil
}

func runAttempts(ctx context.Context, lister attemptLister, limit int, jsonOutput bool, out io.Writer) error {
	if lister == nil {
		return fmt.Errorf("attempt lister is not configured")
	}
	attempts, err := lister.ListAttempts(ctx, limit)
	if err != nil {
		return fmt.Errorf("list attempts: %w", err)
	}
	if jsonOutput {
		return writeJSON(out, attempts, "attempts")
	}
	fmt.Fprintf(out, "Attempts (newest first, limit=%d):\n", limit)
	for _, attempt := range attempts {
		fmt.Fprintf(
			out,
			"- %s kind=%s consumer=%s outcome=%s attempt=%d at=%s\n",
			attempt.EventID,
			attempt.EventKind,
			attempt.Consumer,
			attempt.Outcome,
			attempt.AttemptCount,
			attempt.CreatedAt.Format(time.RFC3339),
		)
		if strings.TrimSpace(attempt.LastError) != "" {
			fmt.Fprintf(out, "  last_error=%s\n", attempt.LastError)
		}
	}
	return nil
}

func runManifests(ctx context.Context, lister manifestLister, limit int, jsonOutput bool, out io.Writer) error {
	if lister == nil {
		return fmt.Errorf("manifest lister is not configured")
	}
	manifests, err := lister.ListManifests(ctx, limit)
	if err != nil {
		return fmt.Errorf("list manifests: %w", err)
	}
	if jsonOutput {
		return writeJSON(out, manifests, "manifests")
	}
	fmt.Fprintf(out, "Snapshots (newest first, limit=%d):\n", limit)
	for _, manifest := range manifests {
		fmt.Fprintf(
			out,
			"- %s %dx%d tiles=%d dropped=%d pixels=%d at=%s\n",
			manifest.ID,
			manifest.CanvasWidth,
			manifest.CanvasHeight,
			len(manifest.Tiles),
			manifest.DroppedTiles,
			manifest.PixelCount,
			manifest.Timestamp.Format(time.RFC3339),
		)
	}
	return nil
}

func runPurgeCounters(ctx context.Context, purger counterPurger, now time.Time, jsonOutput bool, out io.Writer) error {
	if purger == nil {
		return fmt.Errorf("counter purger is not configured")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	purged, err := purger.PurgeExpiredCounters(ctx, now)
	if err != nil {
		return fmt.Errorf("purge counters: %w", err)
	}
	if jsonOutput {
		return writeJSON(out, purgeResult{Mode: "purge-counters", Purged: purged}, "purge report")
	}
	fmt.Fprintf(out, "Purged expired rate counters: %d\n", purged)
	return nil
}

func runHealthProbe(ctx context.Context, addr string, jsonOutput bool, out io.Writer) error {
	err := platformgrpc.Probe(ctx, addr, canvasworker.HealthService, timeouts.GRPCDial, nil)
	if jsonOutput {
		if encodeErr := writeJSON(out, healthResult{Mode: "health", Addr: addr, Serving: err == nil}, "health report"); encodeErr != nil {
			return encodeErr
		}
		return err
	}
	if err != nil {
		return fmt.Errorf("probe %s: %w", addr, err)
	}
	fmt.Fprintf(out, "Worker at %s is serving\n", addr)
	return nil
}
