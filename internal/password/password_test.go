package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	encoded, err := Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$"))

	matches, err := Verify("correct horse battery staple", encoded)
	require.NoError(t, err)
	assert.True(t, matches)

	matches, err = Verify("wrong password", encoded)
	require.NoError(t, err)
	assert.False(t, matches)
}

func TestHashIsSalted(t *testing.T) {
	first, err := Hash("same password")
	require.NoError(t, err)
	second, err := Hash("same password")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestVerifyRejectsBadEncoding(t *testing.T) {
	_, err := Verify("whatever", "not-an-argon2-hash")
	assert.Error(t, err)

	_, err = Verify("whatever", "$bcrypt$something$else$entirely$x")
	assert.Error(t, err)
}
