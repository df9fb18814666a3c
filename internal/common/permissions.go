package common

// Modes of the configuration file and its directory; both may hold secrets
const (
	FilePermissionSecure = 0600
	DirPermissionSecure  = 0700
)
