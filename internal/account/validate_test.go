package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validLocal() *Account {
	return &Account{
		ID:           "acct-1",
		Email:        "a@x.com",
		PasswordHash: "$2a$12$fakehash",
		FirstName:    "Alice",
		LastName:     "Smith",
		AuthMethod:   AuthMethodLocal,
	}
}

func validGoogle() *Account {
	return &Account{
		ID:         "acct-2",
		Email:      "g@x.com",
		FirstName:  "Grace",
		LastName:   "Jones",
		AuthMethod: AuthMethodGoogle,
		GoogleID:   "google-sub-1",
	}
}

func TestValidateLocalRequiresPassword(t *testing.T) {
	t.Parallel()

	acct := validLocal()
	acct.PasswordHash = ""
	err := Validate(acct, PreSavePipeline()...)
	assert.ErrorIs(t, err, ErrPasswordRequired)
}

func TestValidateGoogleRequiresSubject(t *testing.T) {
	t.Parallel()

	acct := validGoogle()
	acct.GoogleID = ""
	err := Validate(acct, PreSavePipeline()...)
	assert.ErrorIs(t, err, ErrGoogleIDRequired)
}

func TestValidateGoogleForcesEmailVerified(t *testing.T) {
	t.Parallel()

	acct := validGoogle()
	acct.EmailVerified = false
	require.NoError(t, Validate(acct, PreSavePipeline()...))
	assert.True(t, acct.EmailVerified)
}

func TestValidateNormalizesEmail(t *testing.T) {
	t.Parallel()

	acct := validLocal()
	acct.Email = "  Alice@X.COM "
	require.NoError(t, Validate(acct, PreSavePipeline()...))
	assert.Equal(t, "alice@x.com", acct.Email)

	acct.Email = "   "
	assert.ErrorIs(t, Validate(acct, PreSavePipeline()...), ErrEmailRequired)
}

func TestValidateRequiresNames(t *testing.T) {
	t.Parallel()

	acct := validLocal()
	acct.LastName = " "
	assert.ErrorIs(t, Validate(acct, PreSavePipeline()...), ErrNamesRequired)
}

func TestValidateRejectsUnknownMethod(t *testing.T) {
	t.Parallel()

	acct := validLocal()
	acct.AuthMethod = "ldap"
	assert.Error(t, Validate(acct, PreSavePipeline()...))
}

func TestScrubDropsSecret(t *testing.T) {
	t.Parallel()

	acct := validLocal()
	scrubbed := acct.Scrub()
	assert.Empty(t, scrubbed.PasswordHash)
	assert.NotEmpty(t, acct.PasswordHash)
	assert.Equal(t, acct.ID, scrubbed.ID)
}
