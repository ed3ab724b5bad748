package collector

import (
	"os"
)

// Permission is a capability category the pipeline depends on.
type Permission int

const (
	PermissionUsageStats Permission = iota
	PermissionLocation
	PermissionActivityRecognition
	PermissionNotifications
)

func (p Permission) String() string {
	switch p {
	case PermissionUsageStats:
		return "usage_stats"
	case PermissionLocation:
		return "location"
	case PermissionActivityRecognition:
		return "activity_recognition"
	case PermissionNotifications:
		return "notifications"
	default:
		return "unknown"
	}
}

// PermissionGate answers whether a capability is currently granted.
// Callers skip the dependent work when it is not.
type PermissionGate interface {
	Granted(p Permission) bool
}

// SystemPermissions derives capabilities from the local environment.
type SystemPermissions struct {
	// UsageLogPath must be readable for usage stats access.
	UsageLogPath string
	// LocationConfigured is set when a static location is configured.
	LocationConfigured bool
	// ActivityRecognition is granted by configuration.
	ActivityRecognition bool
}

func (s SystemPermissions) Granted(p Permission) bool {
	switch p {
	case PermissionUsageStats:
		f, err := os.Open(s.UsageLogPath)
		if err != nil {
			return false
		}
		f.Close()
		return true
	case PermissionLocation:
		return s.LocationConfigured
	case PermissionActivityRecognition:
		return s.ActivityRecognition
	case PermissionNotifications:
		return os.Getenv("DBUS_SESSION_BUS_ADDRESS") != ""
	default:
		return false
	}
}

// StaticPermissions grants exactly the listed capabilities.
type StaticPermissions map[Permission]bool

func (s StaticPermissions) Granted(p Permission) bool {
	return s[p]
}
