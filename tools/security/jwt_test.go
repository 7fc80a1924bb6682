package security

import (
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOpts = DefaultOptions([]byte("unit-secret"))

func TestGenerateVerifyRoles(t *testing.T) {
	tok, exp, err := Generate(testOpts, "s1", ClientAudience("mot"), []string{JoinLeaveRole("session-s1")})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := Verify(testOpts, tok, ClientAudience("mot"))
	require.NoError(t, err)
	assert.Equal(t, "s1", claims.Subject())
	assert.Equal(t, []string{"webpubsub.joinLeaveGroup.session-s1"}, claims.Roles())
	assert.True(t, claims.CanJoinLeave("session-s1"))
	assert.False(t, claims.CanJoinLeave("session-s2"))
}

func TestVerifyRejects(t *testing.T) {
	tok, _, err := Generate(testOpts, "s1", ClientAudience("mot"), nil)
	require.NoError(t, err)

	_, err = Verify(testOpts, tok, ServerAudience("mot"))
	assert.Error(t, err, "audience mismatch")

	_, err = Verify(DefaultOptions([]byte("other")), tok, "")
	assert.Error(t, err, "wrong secret")

	// TTL<=0 回落默认值，手工构造过期令牌
	raw := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": "s1", "exp": time.Now().Add(-time.Minute).Unix(),
	})
	old, err := raw.SignedString(testOpts.Secret)
	require.NoError(t, err)
	_, err = Verify(testOpts, old, "")
	assert.Error(t, err, "expired")

	noExp, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{"sub": "s1"}).SignedString(testOpts.Secret)
	require.NoError(t, err)
	_, err = Verify(testOpts, noExp, "")
	assert.Error(t, err, "exp required")

	none, err := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, jwtlib.MapClaims{"sub": "s1", "exp": time.Now().Add(time.Hour).Unix()}).
		SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = Verify(testOpts, none, "")
	assert.Error(t, err, "alg none")
}

func TestAnyGroupRoleAndStringRole(t *testing.T) {
	c := &JWTClaims{jwtlib.MapClaims{"role": RoleJoinLeaveGroup}}
	assert.True(t, c.CanJoinLeave("anything"))
	assert.False(t, c.HasRole(RoleSendToGroup))
}

func TestGenerateRequiresSecretAndKnownAlg(t *testing.T) {
	_, _, err := Generate(Options{}, "s", "a", nil)
	assert.Error(t, err)

	_, _, err = Generate(Options{Secret: []byte("x"), Alg: "RS256"}, "s", "a", nil)
	assert.Error(t, err)
}

func TestHashToken(t *testing.T) {
	h := HashToken("abc")
	assert.True(t, strings.HasPrefix(h, "sha256:"))
	assert.Len(t, h, len("sha256:")+16)
	assert.Equal(t, h, HashToken("abc"))
}
