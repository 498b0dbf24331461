package main

import (
	"runtime/debug"
	"time"

	"badma/internal/handlers"
)

// Overridden with -ldflags "-X main.commit=... -X main.buildDate=...".
var (
	commit    = "dev"
	buildDate = ""
)

// buildInfo resolves the commit and date from linker flags, falling back to
// the VCS stamp the Go toolchain embeds.
func buildInfo() handlers.BuildInfo {
	info := handlers.BuildInfo{Commit: commit, BuildDate: buildDate}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "dev" && s.Value != "" {
					info.Commit = s.Value
					if len(info.Commit) > 7 {
						info.Commit = info.Commit[:7]
					}
				}
			case "vcs.time":
				if info.BuildDate == "" && s.Value != "" {
					if t, err := time.Parse(time.RFC3339, s.Value); err == nil {
						info.BuildDate = t.Format("2006-01-02")
					}
				}
			}
		}
	}
	return info
}
