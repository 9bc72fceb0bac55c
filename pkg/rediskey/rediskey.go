package rediskey

import (
	"fmt"
	"strconv"
)

// Session keys (one live conversion session per account)
const (
	SessionPrefix = "session"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildSessionKey returns "session:{accountID}"
func BuildSessionKey(accountID int64) string {
	return NamespaceKey(SessionPrefix, strconv.FormatInt(accountID, 10))
}
