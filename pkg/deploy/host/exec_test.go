package host

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xuanwo/colmena-go/pkg/deploy/errkind"
)

func TestParseStorePathsAcceptsValidLines(t *testing.T) {
	lines := []string{
		"/nix/store/00000000000000000000000000000000-hello-1.0",
		"",
		"/nix/store/11111111111111111111111111111111-world-2.0",
	}

	paths, err := parseStorePaths(lines)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, "/nix/store/00000000000000000000000000000000-hello-1.0", paths[0].Path())
}

func TestParseStorePathsRejectsMalformedLine(t *testing.T) {
	_, err := parseStorePaths([]string{"not a store path"})
	require.Error(t, err)
	kind, ok := errkind.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errkind.Internal, kind)
}

func TestRunLocalCapturesStdoutLines(t *testing.T) {
	lines, err := runLocal(context.Background(), nil, "printf", "a\\nb\\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, lines)
}

func TestRunLocalReturnsRealizationErrorOnNonZeroExit(t *testing.T) {
	_, err := runLocal(context.Background(), nil, "sh", "-c", "echo boom >&2; exit 1")
	require.Error(t, err)
	kind, ok := errkind.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errkind.Realization, kind)
}
