package caches

import "time"

var (
	// DefaultExpiredDuration is how long a row lives in a remote storage when no
	// ItemExpiration is configured. It is independent of the mirror TTL.
	DefaultExpiredDuration = 24 * time.Hour

	// DefaultExpiredTaskTimer is the default interval of the expired item cleanup task
	DefaultExpiredTaskTimer = 10 * time.Minute
)
