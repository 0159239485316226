package notary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lacquer/internal/logging"
	"lacquer/internal/release"
	"lacquer/internal/services"
	"lacquer/internal/toolrun"
)

const xcrunBinary = "xcrun"

// Credentials identify the developer account to the notarization service.
type Credentials struct {
	AppleID         string
	TeamID          string
	KeychainProfile string
}

// Policy bounds polling cadence and total wait time.
type Policy struct {
	PollBase    time.Duration
	PollCap     time.Duration
	Deadline    time.Duration
	ToolTimeout time.Duration
}

// PollObserver is invoked after every status query so the caller can persist
// poll accounting before the next wait.
type PollObserver func(ctx context.Context, verdict release.Verdict, at time.Time) error

// Option configures the client.
type Option func(*Client)

// WithRunner injects a custom tool runner (primarily for tests).
func WithRunner(run toolrun.Runner) Option {
	return func(c *Client) {
		if run != nil {
			c.run = run
		}
	}
}

// WithClock injects a time source for deterministic deadline tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSleeper injects the inter-poll wait (tests record intervals instead of
// sleeping).
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithLogger attaches a logger for submit and poll events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger.With(logging.String(logging.FieldComponent, "notary"))
		}
	}
}

// Client wraps notarytool submit/info/log interactions.
type Client struct {
	creds  Credentials
	policy Policy
	run    toolrun.Runner
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// New constructs a notarization client. Credentials must be complete; the
// notarize stage validates them before the pipeline gets this far, so this
// guards direct library use.
func New(creds Credentials, policy Policy, opts ...Option) (*Client, error) {
	if creds.AppleID == "" || creds.TeamID == "" || creds.KeychainProfile == "" {
		return nil, services.Wrap(services.ErrConfiguration, "notarize", "", "apple id, team id, and keychain profile are required", nil)
	}
	if policy.PollBase <= 0 {
		policy.PollBase = 30 * time.Second
	}
	if policy.PollCap < policy.PollBase {
		policy.PollCap = policy.PollBase
	}
	if policy.Deadline <= 0 {
		policy.Deadline = 2 * time.Hour
	}

	client := &Client{
		creds:  creds,
		policy: policy,
		run:    toolrun.NewRunner(),
		now:    time.Now,
		sleep:  sleepContext,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type submitResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Submit uploads the archive for review and returns the service's submission
// id. Callers must persist the id before polling begins.
func (c *Client) Submit(ctx context.Context, archivePath string) (string, error) {
	if strings.TrimSpace(archivePath) == "" {
		return "", services.Wrap(services.ErrConfiguration, "notarize", "submit", "archive path required", nil)
	}

	args := append([]string{"notarytool", "submit", archivePath}, c.credentialArgs()...)
	args = append(args, "--output-format", "json")
	res, err := c.run.Run(ctx, toolrun.Invocation{Binary: xcrunBinary, Args: args, Timeout: c.policy.ToolTimeout})
	if err != nil {
		return "", c.classify("submit", err)
	}

	var parsed submitResponse
	if err := json.Unmarshal([]byte(res.Stdout), &parsed); err != nil {
		return "", services.Wrap(services.ErrExternalTool, "notarize", "submit", "parse notarytool response", err)
	}
	if strings.TrimSpace(parsed.ID) == "" {
		return "", services.Wrap(services.ErrExternalTool, "notarize", "submit", "notarytool returned no submission id", nil)
	}
	c.logger.InfoContext(ctx, "submitted for notarization",
		logging.String(logging.FieldSubmissionID, parsed.ID),
		logging.String("archive", archivePath))
	return parsed.ID, nil
}

type infoResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Poll queries the verdict for a submission until it is terminal, the
// configured deadline passes, or the context is cancelled. The interval
// starts at the policy base and doubles up to the cap while the service
// reports the submission still in progress. since anchors the deadline;
// pass the first-poll timestamp from a resumed run so total wait stays
// bounded across restarts, or the zero time to start the clock now.
func (c *Client) Poll(ctx context.Context, submissionID string, since time.Time, observe PollObserver) (release.Verdict, error) {
	if strings.TrimSpace(submissionID) == "" {
		return release.VerdictUnknown, services.Wrap(services.ErrConfiguration, "notarize", "poll", "submission id required", nil)
	}

	started := since
	if started.IsZero() {
		started = c.now()
	}
	delay := c.policy.PollBase

	for {
		verdict, err := c.queryVerdict(ctx, submissionID)
		if err != nil {
			return release.VerdictUnknown, err
		}
		c.logger.InfoContext(ctx, "polled notarization status",
			logging.String(logging.FieldSubmissionID, submissionID),
			logging.String("verdict", string(verdict)),
			logging.Duration("next_delay", delay))

		if observe != nil {
			if obsErr := observe(ctx, verdict, c.now()); obsErr != nil {
				return verdict, obsErr
			}
		}

		switch verdict {
		case release.VerdictAccepted:
			return verdict, nil
		case release.VerdictRejected:
			reasons := c.rejectionReasons(ctx, submissionID)
			return verdict, services.Wrap(services.ErrNotaryRejected, "notarize", "poll", reasons, nil)
		}

		if c.now().Sub(started) >= c.policy.Deadline {
			return release.VerdictTimedOut, services.Wrap(
				services.ErrNotaryTimeout, "notarize", "poll",
				fmt.Sprintf("no verdict for submission %s within %s; rerun to resume polling", submissionID, c.policy.Deadline),
				nil,
			)
		}

		if err := c.sleep(ctx, delay); err != nil {
			return release.VerdictUnknown, err
		}
		if next := delay * 2; next <= c.policy.PollCap {
			delay = next
		} else {
			delay = c.policy.PollCap
		}
	}
}

// FetchLog retrieves the reviewer log for a submission.
func (c *Client) FetchLog(ctx context.Context, submissionID string) (string, error) {
	args := append([]string{"notarytool", "log", submissionID}, c.credentialArgs()...)
	res, err := c.run.Run(ctx, toolrun.Invocation{Binary: xcrunBinary, Args: args, Timeout: c.policy.ToolTimeout})
	if err != nil {
		return "", c.classify("log", err)
	}
	return res.Stdout, nil
}

func (c *Client) queryVerdict(ctx context.Context, submissionID string) (release.Verdict, error) {
	args := append([]string{"notarytool", "info", submissionID}, c.credentialArgs()...)
	args = append(args, "--output-format", "json")
	res, err := c.run.Run(ctx, toolrun.Invocation{Binary: xcrunBinary, Args: args, Timeout: c.policy.ToolTimeout})
	if err != nil {
		return release.VerdictUnknown, c.classify("info", err)
	}

	var parsed infoResponse
	if err := json.Unmarshal([]byte(res.Stdout), &parsed); err != nil {
		return release.VerdictUnknown, services.Wrap(services.ErrExternalTool, "notarize", "info", "parse notarytool response", err)
	}

	switch strings.ToLower(strings.TrimSpace(parsed.Status)) {
	case "accepted":
		return release.VerdictAccepted, nil
	case "invalid", "rejected":
		return release.VerdictRejected, nil
	default:
		// "In Progress" and anything unrecognized keep the poll loop going.
		return release.VerdictUnknown, nil
	}
}

func (c *Client) rejectionReasons(ctx context.Context, submissionID string) string {
	log, err := c.FetchLog(ctx, submissionID)
	log = strings.TrimSpace(log)
	if err != nil || log == "" {
		return fmt.Sprintf("submission %s was rejected; reviewer log unavailable", submissionID)
	}
	return fmt.Sprintf("submission %s was rejected: %s", submissionID, log)
}

func (c *Client) credentialArgs() []string {
	return []string{
		"--apple-id", c.creds.AppleID,
		"--team-id", c.creds.TeamID,
		"--keychain-profile", c.creds.KeychainProfile,
	}
}

func (c *Client) classify(operation string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var toolErr *toolrun.Error
	if errors.As(err, &toolErr) && toolErr.Kind == toolrun.KindTimeout {
		return services.Wrap(services.ErrTimeout, "notarize", operation, "notarytool timed out", err)
	}
	return services.Wrap(services.ErrExternalTool, "notarize", operation, "notarytool failed", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
