package version

// Set at build time with
//
//	-ldflags "-X github.com/projectdiscovery/kancut/pkg/version.Commit=$(git rev-parse --short HEAD)"
var (
	Version = "v0.1.0"
	Commit  = ""
)

// GetVersion returns the version, suffixed with the commit when known
func GetVersion() string {
	if Commit == "" {
		return Version
	}
	return Version + "+" + Commit
}
