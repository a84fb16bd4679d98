package sequence

import (
	"context"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
)

func TestFormatDailyCode(t *testing.T) {
	require.Equal(t, "PAY-261014-001AB", FormatDailyCode("PAY", "261014", 1, "AB"))
	require.Equal(t, "ADV-261014-00ZXY", FormatDailyCode("ADV", "261014", 35, "XY"))
	require.Equal(t, "PAY-261014-10000Q", FormatDailyCode("PAY", "261014", 36*36*36, "0Q"))
}

func TestLocalGeneratorUnique(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	gen := NewLocalGenerator(node)

	seen := make(map[string]struct{})
	for i := 0; i < 500; i++ {
		code, err := gen.NextPayoutNumber(context.Background())
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(code, "PAY-"))
		_, dup := seen[code]
		require.False(t, dup, "duplicate code %s", code)
		seen[code] = struct{}{}
	}

	adv, err := gen.NextAdvanceNumber(context.Background())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(adv, "ADV-"))
}

func TestRandomAlphaNumeric(t *testing.T) {
	s, err := randomAlphaNumeric(8)
	require.NoError(t, err)
	require.Len(t, s, 8)
	require.NotContains(t, s, "O")
	require.NotContains(t, s, "1")
}
