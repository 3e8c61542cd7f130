package config

import (
	"log/slog"
	"runtime/debug"
)

// Set with -ldflags "-X tasseo/internal/config.version=...". Release images
// set all three; local builds fall back to the VCS stamp the toolchain
// embeds, when there is one.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo reads the injected build metadata.
func NewBuildInfo() BuildInfo {
	info := BuildInfo{Version: version, Commit: commit, BuildTime: buildTime}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info = info.withVCS(bi.Settings)
	}
	return info
}

// withVCS fills fields still at their defaults from vcs.* build settings.
func (b BuildInfo) withVCS(settings []debug.BuildSetting) BuildInfo {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "none" && s.Value != "" {
				b.Commit = shortRevision(s.Value)
			}
		case "vcs.time":
			if b.BuildTime == "unknown" && s.Value != "" {
				b.BuildTime = s.Value
			}
		}
	}
	return b
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// LogValue groups the build fields under one key in startup logs.
func (b BuildInfo) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("version", b.Version),
		slog.String("commit", b.Commit),
		slog.String("built", b.BuildTime),
	)
}
