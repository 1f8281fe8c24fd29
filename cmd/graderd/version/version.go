package version

import "runtime/debug"

var Version = "(devel)"

func init() {
	inf, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if inf.Main.Version != "" {
		Version = inf.Main.Version
	}
}
