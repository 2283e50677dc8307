package llm

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildURL_IncludesSuffixesAndParams(t *testing.T) {
	a := NewPreviewAdapter("realvisxl", 1280, 960)

	got, err := a.BuildURL("a small wooden birdhouse")
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	require.Equal(t, "image.pollinations.ai", u.Host)
	require.Equal(t, "realvisxl", u.Query().Get("model"))
	require.Equal(t, "1280", u.Query().Get("width"))
	require.Equal(t, "960", u.Query().Get("height"))
	require.Equal(t, "true", u.Query().Get("nologo"))
	require.Equal(t, "false", u.Query().Get("enhance"))
	require.NotEmpty(t, u.Query().Get("seed"))

	require.Contains(t, u.Path, "a small wooden birdhouse")
	require.Contains(t, u.Path, positiveSuffix)
	require.Contains(t, u.Path, negativeSuffix)
}

func TestBuildURL_SeedVariesPerCall(t *testing.T) {
	a := NewPreviewAdapter("realvisxl", 1280, 960)

	first, err := a.BuildURL("sketch one")
	require.NoError(t, err)
	second, err := a.BuildURL("sketch one")
	require.NoError(t, err)

	u1, _ := url.Parse(first)
	u2, _ := url.Parse(second)
	require.NotEqual(t, u1.Query().Get("seed"), u2.Query().Get("seed"))
}
