package aps_test

import (
	"strings"
	"testing"

	"github.com/jrsteele09/aps-viewer-server/aps"
	"github.com/stretchr/testify/require"
)

func TestUrnify_RoundTrip(t *testing.T) {
	ids := []string{
		"",
		"a",
		"ab",
		"abc",
		"urn:adsk.objects:os.object:my-bucket/house.rvt",
		"urn:adsk.objects:os.object:my-bucket/with space & ü.ifc",
		"urn:adsk.wipprod:fs.file:vf.xyz123?version=1",
		strings.Repeat("x", 257),
	}

	for _, id := range ids {
		urn := aps.Urnify(id)
		require.NotContains(t, urn, "=")

		decoded, err := aps.Deurnify(urn)
		require.NoError(t, err)
		require.Equal(t, id, decoded)
	}
}

func TestUrnify_KnownValue(t *testing.T) {
	require.Equal(t, "dXJuOmFkc2sub2JqZWN0czpvcy5vYmplY3Q6YnVja2V0L2EucnZ0", aps.Urnify("urn:adsk.objects:os.object:bucket/a.rvt"))
	require.Equal(t, "YQ", aps.Urnify("a"))
}

func TestDeurnify_AcceptsPaddedAndURLSafe(t *testing.T) {
	id := "urn:adsk.objects:os.object:b/??>>.dwg"
	urn := aps.Urnify(id)

	padded := urn + strings.Repeat("=", (4-len(urn)%4)%4)
	decoded, err := aps.Deurnify(padded)
	require.NoError(t, err)
	require.Equal(t, id, decoded)

	decoded, err = aps.Deurnify(aps.SafeURN(urn))
	require.NoError(t, err)
	require.Equal(t, id, decoded)
}

func TestDeurnify_Invalid(t *testing.T) {
	_, err := aps.Deurnify("!!!")
	require.Error(t, err)
}
