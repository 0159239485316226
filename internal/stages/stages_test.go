package stages

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lacquer/internal/config"
	"lacquer/internal/notary"
	"lacquer/internal/release"
	"lacquer/internal/services"
	"lacquer/internal/testsupport"
	"lacquer/internal/toolrun"
)

func newState(cfg *config.Config) *release.State {
	return release.NewState(cfg.DefaultReleaseID())
}

func TestMergeExecuteCreatesAndVerifiesUniversal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteBundle(t, cfg)
	runner := testsupport.NewScriptedRunner(func(inv toolrun.Invocation) (toolrun.Result, error) {
		if len(inv.Args) > 0 && inv.Args[0] == "-archs" {
			return toolrun.Result{Stdout: "x86_64 arm64\n"}, nil
		}
		return toolrun.Result{}, nil
	})

	merge := NewMerge(cfg, runner)
	st := newState(cfg)
	if err := merge.Prepare(context.Background(), st); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := merge.Execute(context.Background(), st); err != nil {
		t.Fatalf("execute: %v", err)
	}

	want := filepath.Join(cfg.App.BundlePath, "Contents", "MacOS", "MyApp")
	creates := runner.CallsFor("lipo", "-create")
	if len(creates) != 1 {
		t.Fatalf("expected one lipo -create call, got %d", len(creates))
	}
	args := creates[0].Args
	wantArgs := []string{"-create", "-output", want, cfg.App.ARM64Binary, cfg.App.X8664Binary}
	if len(args) != len(wantArgs) {
		t.Fatalf("lipo args = %v, want %v", args, wantArgs)
	}
	for i := range args {
		if args[i] != wantArgs[i] {
			t.Fatalf("lipo args = %v, want %v", args, wantArgs)
		}
	}
	if got := st.Record(release.StageMerge).Artifact; got != want {
		t.Fatalf("artifact = %q, want %q", got, want)
	}
}

func TestMergeExecuteRejectsThinOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteBundle(t, cfg)
	runner := testsupport.NewScriptedRunner(func(inv toolrun.Invocation) (toolrun.Result, error) {
		if len(inv.Args) > 0 && inv.Args[0] == "-archs" {
			return toolrun.Result{Stdout: "arm64\n"}, nil
		}
		return toolrun.Result{}, nil
	})

	err := NewMerge(cfg, runner).Execute(context.Background(), newState(cfg))
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if !strings.Contains(err.Error(), "x86_64") {
		t.Fatalf("error should name the missing architecture: %v", err)
	}
}

func TestMergePrepareRequiresInputs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteBundle(t, cfg)
	if err := os.Remove(cfg.App.ARM64Binary); err != nil {
		t.Fatal(err)
	}

	err := NewMerge(cfg, testsupport.NewScriptedRunner(nil)).Prepare(context.Background(), newState(cfg))
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestSignExecuteSignsNestedCodeThenBundle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteBundle(t, cfg)
	fwBinary := filepath.Join(cfg.App.BundlePath, "Contents", "Frameworks", "Helper.framework", "Versions", "A", "libhelper.dylib")
	if err := os.MkdirAll(filepath.Dir(fwBinary), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(fwBinary, []byte("dylib"), 0o755); err != nil {
		t.Fatal(err)
	}

	runner := testsupport.NewScriptedRunner(nil)
	sign := NewSign(cfg, runner)
	st := newState(cfg)
	if err := sign.Prepare(context.Background(), st); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := sign.Execute(context.Background(), st); err != nil {
		t.Fatalf("execute: %v", err)
	}

	calls := runner.CallsFor("codesign")
	var signed []string
	for _, inv := range calls {
		for _, flag := range []string{"--force", "runtime", "--timestamp"} {
			found := false
			for _, arg := range inv.Args {
				if arg == flag {
					found = true
					break
				}
			}
			if !found {
				t.Fatalf("codesign call missing %s: %v", flag, inv.Args)
			}
		}
		signed = append(signed, inv.Args[len(inv.Args)-1])
	}

	index := func(path string) int {
		for i, p := range signed {
			if p == path {
				return i
			}
		}
		t.Fatalf("%s was not signed (signed: %v)", path, signed)
		return -1
	}

	framework := filepath.Join(cfg.App.BundlePath, "Contents", "Frameworks", "Helper.framework")
	mainExe := filepath.Join(cfg.App.BundlePath, "Contents", "MacOS", "MyApp")
	dylib := filepath.Join(cfg.App.BundlePath, "Contents", "Frameworks", "libextra.dylib")

	if index(fwBinary) > index(framework) {
		t.Fatal("framework signed before its nested dylib")
	}
	if signed[len(signed)-1] != cfg.App.BundlePath {
		t.Fatalf("bundle must be signed last, got %s", signed[len(signed)-1])
	}
	index(mainExe)
	index(dylib)
}

func TestSignExecuteSkipsSymlinks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteBundle(t, cfg)
	target := filepath.Join(cfg.App.BundlePath, "Contents", "Frameworks", "libextra.dylib")
	link := filepath.Join(cfg.App.BundlePath, "Contents", "Frameworks", "liblink.dylib")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	runner := testsupport.NewScriptedRunner(nil)
	if err := NewSign(cfg, runner).Execute(context.Background(), newState(cfg)); err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, inv := range runner.CallsFor("codesign") {
		if inv.Args[len(inv.Args)-1] == link {
			t.Fatal("symlink should not be signed")
		}
	}
}

func TestSignPrepareRequiresIdentity(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteBundle(t, cfg)
	cfg.Signing.Identity = ""

	err := NewSign(cfg, testsupport.NewScriptedRunner(nil)).Prepare(context.Background(), newState(cfg))
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func notaryClient(t *testing.T, cfg *config.Config, runner toolrun.Runner) *notary.Client {
	t.Helper()
	client, err := notary.New(
		notary.Credentials{AppleID: cfg.Notary.AppleID, TeamID: cfg.Notary.TeamID, KeychainProfile: cfg.Notary.KeychainProfile},
		notary.Policy{PollBase: cfg.PollBase(), PollCap: cfg.PollCap(), Deadline: cfg.NotaryDeadline()},
		notary.WithRunner(runner),
		notary.WithSleeper(func(context.Context, time.Duration) error { return nil }),
	)
	if err != nil {
		t.Fatalf("notary client: %v", err)
	}
	return client
}

func TestNotarizePrepareArchivesAndSubmits(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteBundle(t, cfg)
	if err := os.MkdirAll(cfg.Paths.StagingDir, 0o755); err != nil {
		t.Fatal(err)
	}
	runner := testsupport.NewScriptedRunner(func(inv toolrun.Invocation) (toolrun.Result, error) {
		if len(inv.Args) > 1 && inv.Args[1] == "submit" {
			return toolrun.Result{Stdout: `{"id":"sub-1234","status":"In Progress"}`}, nil
		}
		return toolrun.Result{}, nil
	})

	stage := NewNotarize(cfg, runner, notaryClient(t, cfg, runner), nil)
	st := newState(cfg)
	if err := stage.Prepare(context.Background(), st); err != nil {
		t.Fatalf("prepare: %v", err)
	}

	if st.Submission == nil || st.Submission.ID != "sub-1234" {
		t.Fatalf("submission id not recorded: %+v", st.Submission)
	}
	zips := runner.CallsFor("ditto", "-c")
	if len(zips) != 1 {
		t.Fatalf("expected one ditto call, got %d", len(zips))
	}
	wantZip := filepath.Join(cfg.Paths.StagingDir, "MyApp-1.2.0-notary.zip")
	if dest := zips[0].Args[len(zips[0].Args)-1]; dest != wantZip {
		t.Fatalf("upload archive = %s, want %s", dest, wantZip)
	}
	if len(runner.CallsFor("notarytool", "submit", wantZip)) != 1 {
		t.Fatal("submit should upload the staging archive")
	}
}

func TestNotarizePrepareSkipsResubmission(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	runner := testsupport.NewScriptedRunner(nil)

	st := newState(cfg)
	st.EnsureSubmission().ID = "sub-existing"
	if err := NewNotarize(cfg, runner, notaryClient(t, cfg, runner), nil).Prepare(context.Background(), st); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if len(runner.Calls()) != 0 {
		t.Fatalf("no tools should run when a submission id exists, got %d calls", len(runner.Calls()))
	}
}

func TestNotarizeExecuteRecordsPollsAndArtifact(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	statuses := []string{"In Progress", "Accepted"}
	runner := testsupport.NewScriptedRunner(func(inv toolrun.Invocation) (toolrun.Result, error) {
		if len(inv.Args) > 1 && inv.Args[1] == "info" {
			status := statuses[0]
			if len(statuses) > 1 {
				statuses = statuses[1:]
			}
			return toolrun.Result{Stdout: `{"status":"` + status + `"}`}, nil
		}
		return toolrun.Result{}, nil
	})

	var saves int
	save := func(context.Context, *release.State) error {
		saves++
		return nil
	}
	st := newState(cfg)
	st.EnsureSubmission().ID = "sub-1234"
	if err := NewNotarize(cfg, runner, notaryClient(t, cfg, runner), save).Execute(context.Background(), st); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if st.Submission.Verdict != release.VerdictAccepted {
		t.Fatalf("verdict = %s, want accepted", st.Submission.Verdict)
	}
	if st.Submission.PollCount != 2 {
		t.Fatalf("poll count = %d, want 2", st.Submission.PollCount)
	}
	if saves != 2 {
		t.Fatalf("state saved %d times, want once per poll", saves)
	}
	if got := st.Record(release.StageNotarize).Artifact; got != "sub-1234" {
		t.Fatalf("artifact = %q, want submission id", got)
	}
}

func TestNotarizeExecuteSurfacesRejection(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	runner := testsupport.NewScriptedRunner(func(inv toolrun.Invocation) (toolrun.Result, error) {
		if len(inv.Args) > 1 && inv.Args[1] == "info" {
			return toolrun.Result{Stdout: `{"status":"Invalid"}`}, nil
		}
		if len(inv.Args) > 1 && inv.Args[1] == "log" {
			return toolrun.Result{Stdout: "unsealed contents present"}, nil
		}
		return toolrun.Result{}, nil
	})

	st := newState(cfg)
	st.EnsureSubmission().ID = "sub-1234"
	err := NewNotarize(cfg, runner, notaryClient(t, cfg, runner), nil).Execute(context.Background(), st)
	if !errors.Is(err, services.ErrNotaryRejected) {
		t.Fatalf("expected rejection error, got %v", err)
	}
	if st.Submission.Verdict != release.VerdictRejected {
		t.Fatalf("verdict = %s, want rejected", st.Submission.Verdict)
	}
	if !strings.Contains(err.Error(), "unsealed contents present") {
		t.Fatalf("error should carry the reviewer log: %v", err)
	}
}

func TestStaplePrepareRequiresAcceptedVerdict(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteBundle(t, cfg)

	staple := NewStaple(cfg, testsupport.NewScriptedRunner(nil))
	st := newState(cfg)
	if err := staple.Prepare(context.Background(), st); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error without a verdict, got %v", err)
	}

	sub := st.EnsureSubmission()
	sub.ID = "sub-1234"
	sub.Verdict = release.VerdictAccepted
	if err := staple.Prepare(context.Background(), st); err != nil {
		t.Fatalf("prepare with accepted verdict: %v", err)
	}
}

func TestStapleExecuteRunsStapler(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteBundle(t, cfg)
	runner := testsupport.NewScriptedRunner(nil)

	st := newState(cfg)
	if err := NewStaple(cfg, runner).Execute(context.Background(), st); err != nil {
		t.Fatalf("execute: %v", err)
	}
	calls := runner.CallsFor("xcrun", "stapler", "staple", cfg.App.BundlePath)
	if len(calls) != 1 {
		t.Fatalf("expected one stapler call, got %d", len(calls))
	}
	if got := st.Record(release.StageStaple).Artifact; got != cfg.App.BundlePath {
		t.Fatalf("artifact = %q, want bundle path", got)
	}
}

func TestArchiveExecuteWritesDistributable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteBundle(t, cfg)
	runner := testsupport.NewScriptedRunner(nil)

	archive := NewArchive(cfg, runner)
	st := newState(cfg)
	if err := archive.Prepare(context.Background(), st); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := os.Stat(cfg.Archive.OutputDir); err != nil {
		t.Fatalf("output dir should exist after prepare: %v", err)
	}
	if err := archive.Execute(context.Background(), st); err != nil {
		t.Fatalf("execute: %v", err)
	}

	want := filepath.Join(cfg.Archive.OutputDir, "MyApp-1.2.0.zip")
	calls := runner.CallsFor("ditto", "-c", "-k", "--keepParent", cfg.App.BundlePath, want)
	if len(calls) != 1 {
		t.Fatalf("expected one ditto call producing %s, got %d", want, len(calls))
	}
	if got := st.Record(release.StageArchive).Artifact; got != want {
		t.Fatalf("artifact = %q, want %q", got, want)
	}
}
