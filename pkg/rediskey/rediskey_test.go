package rediskey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	require.Equal(t, "settlement:lock:event:evt_1", NamespaceKey(LockPrefix, "event:evt_1"))
	require.Equal(t, "settlement:reauth:abc", BuildReauthKey("abc"))
	require.Equal(t, "seq:PAY:261014", BuildDailySequenceKey("PAY", "261014"))
}
