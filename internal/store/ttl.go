package store

// IsExpired reports whether e is logically absent at nowMs. An entry is
// still live in the millisecond it expires.
func IsExpired(e Entry, nowMs int64) bool {
	return e.HasExpiry && e.ExpireAtMs < nowMs
}
