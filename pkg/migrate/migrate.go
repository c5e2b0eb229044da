package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/willshop/storefront/pkg/logger"
)

const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var bundled embed.FS

// Bundled returns the migrations compiled into the binary, rooted so goose
// sees the .sql files at the top level.
func Bundled() fs.FS {
	sub, err := fs.Sub(bundled, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Open returns a dedicated lib/pq connection for running goose outside the
// application pool.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("dsn is required")
	}
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open migrate connection: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping migrate connection: %w", err)
	}
	return conn, nil
}

// Runner applies a migration set through a goose provider and logs every
// applied step.
type Runner struct {
	provider *goose.Provider
	logg     *logger.Logger
}

func NewRunner(db *sql.DB, migrations fs.FS, logg *logger.Logger) (*Runner, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if migrations == nil {
		return nil, errors.New("migrations filesystem is required")
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return &Runner{provider: provider, logg: logg}, nil
}

// Apply dispatches one of the cmd/migrate commands that needs a database.
// target is only read by "version".
func (r *Runner) Apply(ctx context.Context, command, target string) error {
	switch command {
	case "up":
		return r.Up(ctx)
	case "down":
		result, err := r.provider.Down(ctx)
		if result != nil {
			r.logResults(ctx, []*goose.MigrationResult{result})
		}
		return wrapStep("down", err)
	case "status":
		return r.logStatus(ctx)
	case "version":
		return r.To(ctx, target)
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
}

func (r *Runner) Up(ctx context.Context) error {
	results, err := r.provider.Up(ctx)
	r.logResults(ctx, results)
	return wrapStep("up", err)
}

// To moves the schema up or down to target, a YYYYMMDDHHMMSS version.
func (r *Runner) To(ctx context.Context, target string) error {
	version, err := parseVersion(target)
	if err != nil {
		return err
	}
	current, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	var results []*goose.MigrationResult
	switch {
	case current == version:
		return nil
	case current < version:
		results, err = r.provider.UpTo(ctx, version)
	default:
		results, err = r.provider.DownTo(ctx, version)
	}
	r.logResults(ctx, results)
	return wrapStep(fmt.Sprintf("migrate to %d", version), err)
}

func (r *Runner) logStatus(ctx context.Context) error {
	statuses, err := r.provider.Status(ctx)
	if err != nil {
		return wrapStep("status", err)
	}
	if r.logg == nil {
		return nil
	}
	for _, st := range statuses {
		fields := map[string]any{
			"version": st.Source.Version,
			"path":    st.Source.Path,
			"state":   string(st.State),
		}
		if !st.AppliedAt.IsZero() {
			fields["applied_at"] = st.AppliedAt
		}
		r.logg.Info(r.logg.WithFields(ctx, fields), "migrations.status")
	}
	return nil
}

func (r *Runner) logResults(ctx context.Context, results []*goose.MigrationResult) {
	if r.logg == nil {
		return
	}
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		r.logg.Info(r.logg.WithFields(ctx, map[string]any{
			"version":     res.Source.Version,
			"path":        res.Source.Path,
			"direction":   res.Direction,
			"duration_ms": res.Duration.Milliseconds(),
		}), "migrations.applied")
	}
}

func parseVersion(value string) (int64, error) {
	if value == "" {
		return 0, errors.New("target version is required")
	}
	if _, err := time.Parse(versionLayout, value); err != nil {
		return 0, fmt.Errorf("invalid version %q, expected YYYYMMDDHHMMSS", value)
	}
	return strconv.ParseInt(value, 10, 64)
}

func wrapStep(step string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("goose %s: %w", step, err)
}
