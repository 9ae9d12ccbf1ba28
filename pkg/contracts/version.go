// Package contracts holds the versioned contracts shared by the service and its clients.
package contracts

import (
	"fmt"
	"runtime"
)

const (
	// Version is the current version of featureflow
	Version = "1.0.0"

	// APIVersion prefixes the HTTP routes
	APIVersion = "v1"

	// SchemaVersion is the version of the feature table layout
	SchemaVersion = 1
)

var (
	// BuildTime is set during build using ldflags
	BuildTime = "unknown"

	// GitCommit is set during build using ldflags
	GitCommit = "unknown"
)

// VersionInfo contains detailed version information
type VersionInfo struct {
	Version       string `json:"version"`
	APIVersion    string `json:"api_version"`
	SchemaVersion int    `json:"schema_version"`
	BuildTime     string `json:"build_time"`
	GitCommit     string `json:"git_commit"`
	GoVersion     string `json:"go_version"`
	OS            string `json:"os"`
	Architecture  string `json:"architecture"`
}

// GetVersionInfo returns detailed version information
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:       Version,
		APIVersion:    APIVersion,
		SchemaVersion: SchemaVersion,
		BuildTime:     BuildTime,
		GitCommit:     GitCommit,
		GoVersion:     runtime.Version(),
		OS:            runtime.GOOS,
		Architecture:  runtime.GOARCH,
	}
}

// GetFullVersionString returns a one-line version banner
func GetFullVersionString() string {
	info := GetVersionInfo()
	return fmt.Sprintf("featureflow v%s (built: %s, commit: %s, go: %s, %s/%s)",
		info.Version, info.BuildTime, info.GitCommit, info.GoVersion, info.OS, info.Architecture)
}
