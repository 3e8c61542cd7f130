package config

import (
	"bytes"
	"log/slog"
	"runtime/debug"
	"strings"
	"testing"
)

func TestNewBuildInfo_KeepsInjectedVersion(t *testing.T) {
	if got := NewBuildInfo().Version; got != version {
		t.Errorf("Version = %q, want %q", got, version)
	}
}

func TestBuildInfo_WithVCS(t *testing.T) {
	settings := []debug.BuildSetting{
		{Key: "vcs", Value: "git"},
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		{Key: "vcs.time", Value: "2026-03-01T10:00:00Z"},
	}

	got := BuildInfo{Version: "dev", Commit: "none", BuildTime: "unknown"}.withVCS(settings)
	if got.Commit != "0123456789ab" {
		t.Errorf("Commit = %q", got.Commit)
	}
	if got.BuildTime != "2026-03-01T10:00:00Z" {
		t.Errorf("BuildTime = %q", got.BuildTime)
	}

	injected := BuildInfo{Version: "1.2.0", Commit: "abc1234", BuildTime: "2026-02-01T00:00:00Z"}.withVCS(settings)
	if injected.Commit != "abc1234" || injected.BuildTime != "2026-02-01T00:00:00Z" {
		t.Errorf("ldflags values overwritten: %+v", injected)
	}
}

func TestBuildInfo_LogValue(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	logger.Info("starting", "build", BuildInfo{Version: "1.2.0", Commit: "abc1234", BuildTime: "t0"})

	out := buf.String()
	for _, want := range []string{"build.version=1.2.0", "build.commit=abc1234", "build.built=t0"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %s", want, out)
		}
	}
}
