package qjsbind

// Version is the binding version.
const Version = "0.3.0"

// engineVersion names the QuickJS release the transpiled engine tracks.
const engineVersion = "quickjs-2025-04-26"

// GetVersion reports the binding and engine versions as one string.
func GetVersion() string {
	return Version + " (" + engineVersion + ")"
}
