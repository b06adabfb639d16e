package version

var (
	AppName = "wowsync"
	// Version is set with -ldflags at build time.
	Version = "dev"
)
