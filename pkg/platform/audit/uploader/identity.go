package uploader

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Placeholders used when an identity value is not configured.
const (
	DefaultAppID      = "unknown-app"
	DefaultAppVersion = "unknown-version"
)

const objectPrefix = "modifying-requests"

// Identity names the process whose requests are being audited. It is resolved
// once when the subsystem starts and then reused for every object key.
type Identity struct {
	AppID      string
	AppVersion string
	InstanceID string
}

// ResolveIdentity fills unset values: fixed placeholders for the application
// id and version, and a fresh random id for the instance.
func ResolveIdentity(appID, appVersion, instanceID string) Identity {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		appID = DefaultAppID
	}
	appVersion = strings.TrimSpace(appVersion)
	if appVersion == "" {
		appVersion = DefaultAppVersion
	}
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	return Identity{AppID: appID, AppVersion: appVersion, InstanceID: instanceID}
}

// ObjectKey builds the object name for a batch flushed at the given time:
//
//	YYYY/MM/DD/<app-id>/<app-version>/<instance-id>/modifying-requests-HH-MM-SS<ext>
//
// The time is converted to UTC. ext includes the leading dot.
func (id Identity) ObjectKey(at time.Time, ext string) string {
	at = at.UTC()
	return fmt.Sprintf("%04d/%02d/%02d/%s/%s/%s/%s-%02d-%02d-%02d%s",
		at.Year(), int(at.Month()), at.Day(),
		segment(id.AppID), segment(id.AppVersion), segment(id.InstanceID),
		objectPrefix, at.Hour(), at.Minute(), at.Second(), ext,
	)
}

// segment keeps an identity value inside one path level.
func segment(v string) string {
	return strings.ReplaceAll(v, "/", "-")
}
