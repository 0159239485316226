package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"lacquer/internal/config"
	"lacquer/internal/logging"
	"lacquer/internal/notary"
	"lacquer/internal/release"
	"lacquer/internal/services"
	"lacquer/internal/stages"
	"lacquer/internal/state"
	"lacquer/internal/toolrun"
)

// Error reports which stage halted the run.
type Error struct {
	Stage release.Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Option configures the runner.
type Option func(*Runner)

// WithToolRunner replaces the external tool runner (tests script it).
func WithToolRunner(run toolrun.Runner) Option {
	return func(r *Runner) {
		if run != nil {
			r.run = run
		}
	}
}

// WithNotaryClient replaces the notarization client.
func WithNotaryClient(client *notary.Client) Option {
	return func(r *Runner) {
		if client != nil {
			r.client = client
		}
	}
}

// WithLogger replaces the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSleep replaces the inter-retry wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// Runner executes the release stages in order against persisted state.
type Runner struct {
	cfg      *config.Config
	store    *state.Store
	logger   *slog.Logger
	run      toolrun.Runner
	client   *notary.Client
	sleep    func(ctx context.Context, d time.Duration) error
	handlers []stages.Handler
}

// New wires the stage handlers against the shared config, store, and tool
// runner. The notarization client is only built when credentials are
// configured; the notarize stage reports the missing configuration
// otherwise.
func New(cfg *config.Config, store *state.Store, opts ...Option) (*Runner, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("pipeline requires config and store")
	}

	r := &Runner{
		cfg:    cfg,
		store:  store,
		logger: logging.NewNop(),
		run:    toolrun.NewRunner(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.client == nil && cfg.Notary.AppleID != "" && cfg.Notary.TeamID != "" && cfg.Notary.KeychainProfile != "" {
		client, err := notary.New(
			notary.Credentials{
				AppleID:         cfg.Notary.AppleID,
				TeamID:          cfg.Notary.TeamID,
				KeychainProfile: cfg.Notary.KeychainProfile,
			},
			notary.Policy{
				PollBase:    cfg.PollBase(),
				PollCap:     cfg.PollCap(),
				Deadline:    cfg.NotaryDeadline(),
				ToolTimeout: cfg.ToolTimeout(),
			},
			notary.WithRunner(r.run),
			notary.WithLogger(r.logger),
		)
		if err != nil {
			return nil, err
		}
		r.client = client
	}

	save := func(ctx context.Context, st *release.State) error {
		return r.store.Save(ctx, st)
	}
	r.handlers = []stages.Handler{
		stages.NewMerge(cfg, r.run),
		stages.NewSign(cfg, r.run),
		stages.NewNotarize(cfg, r.run, r.client, save),
		stages.NewStaple(cfg, r.run),
		stages.NewArchive(cfg, r.run),
	}
	return r, nil
}

// Run drives the release identified by releaseID through every stage that
// has not yet completed. The returned state reflects whatever was persisted
// last, whether the run finished or halted.
func (r *Runner) Run(ctx context.Context, releaseID string) (*release.State, error) {
	releaseID = strings.TrimSpace(releaseID)
	if releaseID == "" {
		return nil, services.Wrap(services.ErrConfiguration, "", "", "release id required", nil)
	}
	if err := r.cfg.EnsureDirectories(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "", "create working directories", err)
	}

	lock := flock.New(filepath.Join(r.cfg.Paths.StateDir, releaseID+".lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "", "lock", "acquire release lock", err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "", "lock",
			fmt.Sprintf("release %s is already being processed", releaseID), nil)
	}
	defer func() { _ = lock.Unlock() }()

	ctx = services.WithReleaseID(ctx, releaseID)
	ctx = services.WithRunID(ctx, uuid.NewString())

	st, resumed, err := r.loadOrCreate(ctx, releaseID)
	if err != nil {
		return nil, err
	}

	log := logging.WithContext(ctx, r.logger).With(logging.String(logging.FieldComponent, "pipeline"))
	log.Info("run started", logging.Bool("resumed", resumed))

	for _, handler := range r.handlers {
		stage := handler.Stage()
		if st.Completed(stage) {
			log.Debug("stage already completed", logging.String(logging.FieldStage, string(stage)))
			continue
		}
		if err := r.runStage(services.WithStage(ctx, string(stage)), handler, st); err != nil {
			return st, err
		}
	}

	log.Info("run completed", logging.String("artifact", st.Record(release.StageArchive).Artifact))
	return st, nil
}

func (r *Runner) loadOrCreate(ctx context.Context, releaseID string) (*release.State, bool, error) {
	st, err := r.store.Load(ctx, releaseID)
	switch {
	case err == nil:
		return st, true, nil
	case errors.Is(err, state.ErrNotFound):
		st = release.NewState(releaseID)
		if err := r.store.Save(ctx, st); err != nil {
			return nil, false, err
		}
		return st, false, nil
	default:
		return nil, false, err
	}
}

func (r *Runner) runStage(ctx context.Context, handler stages.Handler, st *release.State) error {
	stage := handler.Stage()
	log := logging.WithContext(ctx, r.logger).With(logging.String(logging.FieldComponent, "pipeline"))

	for {
		st.SetInProgress(stage)
		rec := st.Record(stage)
		rec.Attempts++
		if err := r.store.Save(ctx, st); err != nil {
			return err
		}
		log.Info("stage started",
			logging.String(logging.FieldEventType, "stage_start"),
			logging.Int("attempt", rec.Attempts))

		err := handler.Prepare(ctx, st)
		if err == nil {
			// Prepare output must be durable before Execute; for notarize
			// this is what prevents a crash from losing the submission id.
			if err = r.store.Save(ctx, st); err != nil {
				return err
			}
			err = handler.Execute(ctx, st)
		}

		if err == nil {
			if err := st.SetCompleted(stage); err != nil {
				return services.Wrap(services.ErrPersistence, string(stage), "complete", "mark stage completed", err)
			}
			if err := r.store.Save(ctx, st); err != nil {
				return err
			}
			log.Info("stage completed",
				logging.String(logging.FieldEventType, "stage_complete"),
				logging.String("artifact", rec.Artifact))
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Interrupted, not failed. Leave the stage in progress so the
			// next run picks it up.
			rec.LastError = &release.StageError{Kind: "interrupted", Message: err.Error()}
			_ = r.store.Save(context.WithoutCancel(ctx), st)
			log.Warn("run interrupted", logging.Error(err))
			return err
		}

		if services.IsRetryable(err) && rec.Attempts < r.cfg.Workflow.MaxAttempts {
			rec.LastError = &release.StageError{Kind: services.Kind(err), Message: services.Details(err)}
			if saveErr := r.store.Save(ctx, st); saveErr != nil {
				return saveErr
			}
			log.Warn("stage failed, retrying",
				logging.Int("attempt", rec.Attempts),
				logging.Int("max_attempts", r.cfg.Workflow.MaxAttempts),
				logging.Error(err))
			if sleepErr := r.sleep(ctx, r.cfg.RetryDelay()); sleepErr != nil {
				return sleepErr
			}
			continue
		}

		st.SetFailed(stage, services.Kind(err), services.Details(err))
		if saveErr := r.store.Save(ctx, st); saveErr != nil {
			return saveErr
		}
		log.Error("stage failed",
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.String("kind", services.Kind(err)),
			logging.Error(err))
		return &Error{Stage: stage, Err: err}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
