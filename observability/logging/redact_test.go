package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsAllowlistedIsCaseInsensitive(t *testing.T) {
	require.True(t, IsAllowlisted("service"))
	require.True(t, IsAllowlisted("SEVERITY"))
	require.True(t, IsAllowlisted(" error "))
	require.False(t, IsAllowlisted("bitcoin_rpc_pass"))
}

func TestMaskValueLeavesEmptyValuesUntouched(t *testing.T) {
	require.Equal(t, "", MaskValue(""))
	require.Equal(t, RedactedValue, MaskValue("hunter2"))
}

func TestMaskFieldAllowlistsAreNotRedacted(t *testing.T) {
	attr := MaskField("service", "bitstabled")
	require.Equal(t, "service", attr.Key)
	require.Equal(t, "bitstabled", attr.Value.String())
}

func TestMaskFieldRedactsSensitiveKeys(t *testing.T) {
	attr := MaskField("protocol_key_hex", "deadbeef")
	require.Equal(t, "protocol_key_hex", attr.Key)
	require.Equal(t, RedactedValue, attr.Value.String())
}

func TestMaskFieldLeavesEmptyValuesUntouched(t *testing.T) {
	attr := MaskField("protocol_key_hex", "")
	require.Equal(t, "", attr.Value.String())
}

func TestRedactionAllowlistIsSorted(t *testing.T) {
	keys := RedactionAllowlist()
	require.NotEmpty(t, keys)
	for i := 1; i < len(keys); i++ {
		require.Less(t, keys[i-1], keys[i])
	}
}
