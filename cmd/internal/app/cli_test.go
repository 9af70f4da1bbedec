package app

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func TestCLI_Version(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "vigil "+Version+"\n", out)
}

func TestCLI_MigrateRequiresDatabase(t *testing.T) {
	t.Setenv("VIGIL_DATABASE_URL", "")
	_, err := runCLI(t, "migrate", "status")
	require.ErrorIs(t, err, errNoDatabase)
}

func TestCLI_ServeRejectsBadFlags(t *testing.T) {
	t.Setenv("VIGIL_PASETO_V4_SECRET_KEY_HEX", "")
	t.Setenv("VIGIL_PARTNER_TOKEN_SECRET", "")

	_, err := runCLI(t, "serve", "--store", "memory", "--log-format", "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "security policy")

	_, err = runCLI(t, "serve", "extra")
	require.Error(t, err)
}

func TestCLI_Help(t *testing.T) {
	out, err := runCLI(t, "--help")
	require.NoError(t, err)
	for _, sub := range []string{"serve", "migrate", "version"} {
		assert.True(t, strings.Contains(out, sub), "help should list %s", sub)
	}
}
