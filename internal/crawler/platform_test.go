package crawler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePlatformList(t *testing.T) {
	t.Parallel()

	got, err := ParsePlatformList(" XHS, dy ,,", "wb")
	require.NoError(t, err)
	require.Equal(t, []Platform{PlatformXHS, PlatformDouyin, PlatformWeibo}, got)

	_, err = ParsePlatformList("xhs,twitter,foo")
	require.ErrorIs(t, err, ErrInvalidRequest)
	require.Contains(t, err.Error(), "invalid platform(s): twitter, foo")

	got, err = ParsePlatformList("", " ")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestParsePlatform(t *testing.T) {
	t.Parallel()

	p, err := ParsePlatform(" Bili ")
	require.NoError(t, err)
	require.Equal(t, PlatformBilibili, p)

	_, err = ParsePlatform("tiktok")
	if !errors.Is(err, ErrUnsupportedPlatform) {
		t.Fatalf("expected ErrUnsupportedPlatform, got %v", err)
	}
}

func TestPlatformDisplayName(t *testing.T) {
	t.Parallel()

	require.Len(t, Platforms(), 7)
	for _, p := range Platforms() {
		require.True(t, p.Valid(), p)
		require.NotEqual(t, string(p), p.DisplayName())
	}
	require.Equal(t, "小红书", PlatformXHS.DisplayName())
	require.Equal(t, "unknown", Platform("unknown").DisplayName())
}
