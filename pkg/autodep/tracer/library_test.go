package tracer

import (
	"context"
	"strings"
	"testing"

	"github.com/cesar-douady/open-lmake-sub004/pkg/autodep/event"
	"github.com/cesar-douady/open-lmake-sub004/pkg/logging"
)

func TestWithLibraryVarAppendsWhenAbsent(t *testing.T) {
	env := withLibraryVar([]string{"PATH=/bin"}, "LD_PRELOAD", "/opt/interposer.so")
	if len(env) != 2 || env[1] != "LD_PRELOAD=/opt/interposer.so" {
		t.Fatalf("unexpected env: %v", env)
	}
}

func TestWithLibraryVarPrependsWhenPresent(t *testing.T) {
	env := withLibraryVar([]string{"LD_PRELOAD=/usr/lib/existing.so"}, "LD_PRELOAD", "/opt/interposer.so")
	if len(env) != 1 || env[0] != "LD_PRELOAD=/opt/interposer.so:/usr/lib/existing.so" {
		t.Fatalf("expected prior value preserved by prepending, got: %v", env)
	}
}

func TestLibraryVarForSelectsByMethod(t *testing.T) {
	if got := libraryVarFor(MethodLdAudit); got != "LD_AUDIT" {
		t.Errorf("expected LD_AUDIT, got %q", got)
	}
	if got := libraryVarFor(MethodLdPreload); got != "LD_PRELOAD" {
		t.Errorf("expected LD_PRELOAD, got %q", got)
	}
}

func TestAutodepEnvEncodeIsURLSafe(t *testing.T) {
	env := AutodepEnv{
		MasterSocketPath: "/tmp/job-42.sock",
		SrcDirs:          []string{"/repo/src", "/repo/vendor"},
		TmpDir:           "/tmp/job-42",
		TmpView:          "/tmp",
	}
	encoded := env.Encode()
	if strings.ContainsAny(encoded, "+/=") {
		t.Errorf("expected URL-safe base64 without padding-sensitive characters misused, got %q", encoded)
	}
	if encoded == "" {
		t.Error("expected non-empty encoding")
	}
}

func TestLibraryLauncherRequiresInterposerPath(t *testing.T) {
	launcher := NewLibraryLauncher(MethodLdPreload, "", AutodepEnv{}, false, logging.RootLogger)
	_, err := launcher.Start(context.Background(), []string{"/bin/true"}, "", nil, func(*event.Message) error { return nil })
	if err != ErrInterposerUnavailable {
		t.Fatalf("expected ErrInterposerUnavailable, got %v", err)
	}
}
