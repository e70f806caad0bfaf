package version

// Version is the storydev release, set at build time:
// go build -ldflags "-X git.home.luguber.info/inful/storydev/internal/version.Version=v0.3.0".
var Version = "unknown"

// Build metadata, also set through ldflags.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String renders the version line printed by --version.
func String() string {
	if GitCommit == "unknown" {
		return "storydev " + Version
	}
	return "storydev " + Version + " (" + GitCommit + ", built " + BuildTime + ")"
}
