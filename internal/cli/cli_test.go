package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_GraphPathSources(t *testing.T) {
	t.Parallel()
	for _, args := range [][]string{
		{"-graph", "flow.json"},
		{"-g", "flow.json"},
		{"flow.json"},
	} {
		var out bytes.Buffer
		config, exit, err := Parse(args, &out)
		require.NoError(t, err, "args %v", args)
		require.False(t, exit)
		require.Equal(t, "flow.json", config.GraphPath)
	}
}

func TestParse_DefaultsApplied(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	config, exit, err := Parse([]string{"flow.json"}, &out)
	require.NoError(t, err)
	require.False(t, exit)
	require.Equal(t, "json", config.LogFormat)
	require.Equal(t, "info", config.LogLevel)
	require.Equal(t, 0, config.StatusPort)
	require.Equal(t, 10, config.MaxParallelism)
}

func TestParse_NoPathPrintsUsage(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	config, exit, err := Parse(nil, &out)
	require.NoError(t, err)
	require.True(t, exit)
	require.Nil(t, config)
	require.True(t, strings.Contains(out.String(), "Usage:"))
}

func TestParse_RejectsInvalidValues(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		args []string
		want string
	}{
		{"log format", []string{"-log-format", "xml", "flow.json"}, "invalid log-format"},
		{"log level", []string{"-log-level", "loud", "flow.json"}, "invalid log-level"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			_, _, err := Parse(tc.args, &out)
			require.Error(t, err)
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			require.Equal(t, 2, exitErr.Code)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}
