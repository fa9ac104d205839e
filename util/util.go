package util

import (
	"crypto/md5"
	_ "embed"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

//go:embed version.txt
var embeddedVersion string

func GetVersion() string {
	return strings.TrimSpace(embeddedVersion)
}

func GetNameAndVersion() string {
	return fmt.Sprintf("%s / %s", Name, GetVersion())
}

// UserAgent is sent with every outbound federation request.
func UserAgent() string {
	return fmt.Sprintf("%s/%s ActivityPub", Name, GetVersion())
}

// StableUUID derives a version 4 UUID from md5(seed + secret). Remote instances
// cache the UUIDs we publish, so the same seed must always map to the same value.
func StableUUID(seed, secret string) uuid.UUID {
	sum := md5.Sum([]byte(seed + secret))
	sum[6] = (sum[6] & 0x0f) | 0x40
	sum[8] = (sum[8] & 0x3f) | 0x80
	return uuid.UUID(sum)
}
