package obs

import "runtime/debug"

// BuildInfo reports the module version and VCS revision when available.
func BuildInfo() (version, revision string) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	version = info.Main.Version
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			revision = setting.Value
			break
		}
	}
	return version, revision
}
