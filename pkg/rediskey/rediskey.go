package rediskey

import "fmt"

// Settlement keys (global convention across services)
const (
	LockPrefix     = "settlement:lock"
	ReauthPrefix   = "settlement:reauth"
	SequencePrefix = "seq"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildReauthKey returns "settlement:reauth:{token}"
func BuildReauthKey(token string) string {
	return NamespaceKey(ReauthPrefix, token)
}

// BuildDailySequenceKey returns "seq:{prefix}:{yymmdd}"
func BuildDailySequenceKey(prefix, day string) string {
	return fmt.Sprintf("%s:%s:%s", SequencePrefix, prefix, day)
}
