package notary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"lacquer/internal/release"
	"lacquer/internal/services"
	"lacquer/internal/testsupport"
	"lacquer/internal/toolrun"
)

func testCredentials() Credentials {
	return Credentials{AppleID: "dev@example.com", TeamID: "TEAM123456", KeychainProfile: "lacquer-test"}
}

func testPolicy() Policy {
	return Policy{PollBase: 30 * time.Second, PollCap: 10 * time.Minute, Deadline: 2 * time.Hour}
}

// noSleep records requested intervals without waiting.
func noSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		*delays = append(*delays, d)
		return nil
	}
}

func notarytoolScript(statuses []string) func(toolrun.Invocation) (toolrun.Result, error) {
	polls := 0
	return func(inv toolrun.Invocation) (toolrun.Result, error) {
		switch inv.Args[0] {
		case "notarytool":
		default:
			return toolrun.Result{}, fmt.Errorf("unexpected binary use: %v", inv.Args)
		}
		switch inv.Args[1] {
		case "submit":
			return toolrun.Result{Stdout: `{"id":"sub-42","status":"In Progress"}`}, nil
		case "info":
			status := statuses[min(polls, len(statuses)-1)]
			polls++
			return toolrun.Result{Stdout: `{"status":"` + status + `"}`}, nil
		case "log":
			return toolrun.Result{Stdout: "issue: invalid signature on libextra.dylib"}, nil
		}
		return toolrun.Result{}, fmt.Errorf("unexpected notarytool call: %v", inv.Args)
	}
}

func TestSubmitReturnsID(t *testing.T) {
	runner := testsupport.NewScriptedRunner(notarytoolScript(nil))
	client, err := New(testCredentials(), testPolicy(), WithRunner(runner))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	id, err := client.Submit(context.Background(), "/tmp/MyApp.zip")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id != "sub-42" {
		t.Fatalf("id = %q", id)
	}

	calls := runner.CallsFor("submit")
	if len(calls) != 1 {
		t.Fatalf("submit calls = %d", len(calls))
	}
	args := calls[0].Args
	for _, want := range []string{"/tmp/MyApp.zip", "--apple-id", "--team-id", "--keychain-profile", "json"} {
		found := false
		for _, arg := range args {
			if arg == want {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("submit argv missing %q: %v", want, args)
		}
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Credentials{AppleID: "dev@example.com"}, testPolicy())
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("error = %v, want configuration marker", err)
	}
}

func TestPollUntilAccepted(t *testing.T) {
	var delays []time.Duration
	runner := testsupport.NewScriptedRunner(notarytoolScript([]string{"In Progress", "In Progress", "Accepted"}))
	client, err := New(testCredentials(), testPolicy(), WithRunner(runner), WithSleeper(noSleep(&delays)))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	var observed []release.Verdict
	verdict, err := client.Poll(context.Background(), "sub-42", time.Time{}, func(_ context.Context, v release.Verdict, _ time.Time) error {
		observed = append(observed, v)
		return nil
	})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if verdict != release.VerdictAccepted {
		t.Fatalf("verdict = %s", verdict)
	}
	if got := len(runner.CallsFor("info")); got != 3 {
		t.Fatalf("info calls = %d, want 3", got)
	}
	if len(observed) != 3 || observed[2] != release.VerdictAccepted {
		t.Fatalf("observed = %v", observed)
	}
	// Two waits between three polls: base then doubled.
	wantDelays := []time.Duration{30 * time.Second, time.Minute}
	if len(delays) != len(wantDelays) {
		t.Fatalf("delays = %v", delays)
	}
	for i, want := range wantDelays {
		if delays[i] != want {
			t.Fatalf("delay[%d] = %s, want %s", i, delays[i], want)
		}
	}
}

func TestPollBackoffIsMonotonicAndCapped(t *testing.T) {
	var delays []time.Duration
	statuses := make([]string, 12)
	for i := range statuses {
		statuses[i] = "In Progress"
	}
	statuses[len(statuses)-1] = "Accepted"

	runner := testsupport.NewScriptedRunner(notarytoolScript(statuses))
	policy := testPolicy()
	policy.PollCap = 4 * time.Minute
	client, err := New(testCredentials(), policy, WithRunner(runner), WithSleeper(noSleep(&delays)))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := client.Poll(context.Background(), "sub-42", time.Time{}, nil); err != nil {
		t.Fatalf("poll: %v", err)
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] < delays[i-1] {
			t.Fatalf("delays not monotonic: %v", delays)
		}
	}
	for _, d := range delays {
		if d > policy.PollCap {
			t.Fatalf("delay %s exceeds cap %s", d, policy.PollCap)
		}
	}
	if delays[len(delays)-1] != policy.PollCap {
		t.Fatalf("backoff never reached cap: %v", delays)
	}
}

func TestPollRejectionCarriesReviewerLog(t *testing.T) {
	var delays []time.Duration
	runner := testsupport.NewScriptedRunner(notarytoolScript([]string{"Invalid"}))
	client, err := New(testCredentials(), testPolicy(), WithRunner(runner), WithSleeper(noSleep(&delays)))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	verdict, err := client.Poll(context.Background(), "sub-42", time.Time{}, nil)
	if verdict != release.VerdictRejected {
		t.Fatalf("verdict = %s", verdict)
	}
	if !errors.Is(err, services.ErrNotaryRejected) {
		t.Fatalf("error = %v, want rejection marker", err)
	}
	if got := err.Error(); !strings.Contains(got, "invalid signature on libextra.dylib") {
		t.Fatalf("rejection reasons missing from error: %q", got)
	}
	if len(runner.CallsFor("log")) != 1 {
		t.Fatal("reviewer log was not fetched")
	}
}

func TestPollDeadlineReturnsTimedOut(t *testing.T) {
	runner := testsupport.NewScriptedRunner(notarytoolScript([]string{"In Progress"}))
	policy := testPolicy()
	policy.Deadline = time.Hour

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }
	sleeper := func(ctx context.Context, d time.Duration) error {
		current = current.Add(d)
		return nil
	}

	client, err := New(testCredentials(), policy, WithRunner(runner), WithClock(clock), WithSleeper(sleeper))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	verdict, err := client.Poll(context.Background(), "sub-42", time.Time{}, nil)
	if verdict != release.VerdictTimedOut {
		t.Fatalf("verdict = %s", verdict)
	}
	if !errors.Is(err, services.ErrNotaryTimeout) {
		t.Fatalf("error = %v, want timeout marker", err)
	}
}

func TestPollDeadlineHonorsResumeAnchor(t *testing.T) {
	runner := testsupport.NewScriptedRunner(notarytoolScript([]string{"In Progress"}))
	policy := testPolicy()
	policy.Deadline = time.Hour

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client, err := New(testCredentials(), policy,
		WithRunner(runner),
		WithClock(func() time.Time { return current }),
		WithSleeper(func(ctx context.Context, d time.Duration) error { return nil }),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	// First poll of a resumed run whose deadline already elapsed.
	since := current.Add(-2 * time.Hour)
	verdict, err := client.Poll(context.Background(), "sub-42", since, nil)
	if verdict != release.VerdictTimedOut || !errors.Is(err, services.ErrNotaryTimeout) {
		t.Fatalf("verdict = %s err = %v", verdict, err)
	}
	if got := len(runner.CallsFor("info")); got != 1 {
		t.Fatalf("info calls = %d, want 1", got)
	}
}

func TestPollCancellationSurfacesContextError(t *testing.T) {
	runner := testsupport.NewScriptedRunner(notarytoolScript([]string{"In Progress"}))
	client, err := New(testCredentials(), testPolicy(),
		WithRunner(runner),
		WithSleeper(func(ctx context.Context, d time.Duration) error { return context.Canceled }),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.Poll(context.Background(), "sub-42", time.Time{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestPollObserverErrorAbortsPolling(t *testing.T) {
	runner := testsupport.NewScriptedRunner(notarytoolScript([]string{"In Progress", "In Progress"}))
	client, err := New(testCredentials(), testPolicy(),
		WithRunner(runner),
		WithSleeper(func(ctx context.Context, d time.Duration) error { return nil }),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	persistErr := services.Wrap(services.ErrPersistence, "notarize", "save", "disk full", nil)
	_, err = client.Poll(context.Background(), "sub-42", time.Time{}, func(context.Context, release.Verdict, time.Time) error {
		return persistErr
	})
	if !errors.Is(err, services.ErrPersistence) {
		t.Fatalf("error = %v, want persistence marker", err)
	}
	if got := len(runner.CallsFor("info")); got != 1 {
		t.Fatalf("info calls = %d, want 1", got)
	}
}
