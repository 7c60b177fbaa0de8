package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKnownPermissions(t *testing.T) {
	t.Parallel()

	for _, p := range All() {
		parsed, err := Parse(string(p))
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}
}

func TestParseRejectsUnknown(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "admin", "manage_everything", "MANAGE_TENANT", " view_users"} {
		_, err := Parse(s)
		assert.Error(t, err, "expected %q to be rejected", s)
	}
}

func TestAdminIsNotAPermission(t *testing.T) {
	t.Parallel()

	// The wildcard lives outside the closed set so it cannot be required on
	// a route.
	_, err := Parse(Admin)
	assert.Error(t, err)
}
