package utils

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-version"
)

const (
	VersionStatusCurrent  = "current"
	VersionStatusOutdated = "outdated"
	VersionStatusUnknown  = "unknown"
)

// VersionConfig holds the version requirement nodes are checked against.
type VersionConfig struct {
	MinSupported string
}

var DefaultVersionConfig = VersionConfig{
	MinSupported: "1.0.3.4",
}

// FormatNodeVersion renders the packed node version (one byte per component,
// major first) as a dotted string. 0x01000304 -> "1.0.3.4".
func FormatNodeVersion(v int64) string {
	if v <= 0 {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d.%d",
		(v>>24)&0xFF,
		(v>>16)&0xFF,
		(v>>8)&0xFF,
		v&0xFF,
	)
}

// CheckVersionStatus reports whether a node version is below the supported minimum.
func CheckVersionStatus(nodeVersion string, config *VersionConfig) (status string, needsUpgrade bool) {
	if config == nil {
		config = &DefaultVersionConfig
	}

	nodeVersion = strings.TrimPrefix(nodeVersion, "v")
	nodeVer, err := version.NewVersion(nodeVersion)
	if err != nil {
		return VersionStatusUnknown, false
	}

	minSupported, err := version.NewVersion(config.MinSupported)
	if err != nil {
		return VersionStatusUnknown, false
	}

	if nodeVer.LessThan(minSupported) {
		return VersionStatusOutdated, true
	}
	return VersionStatusCurrent, false
}
