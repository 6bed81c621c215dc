package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"  Alice@Example.com ":      "alice@example.com",
		"//CAROL@Example.com":       "carol@example.com",
		"20bob@gmail.com":           "bob@gmail.com",
		"...dave@example.com":       "dave@example.com",
		"erin.@example.com":         "erin@example.com",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "input=%q", in)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	raw := "  //Alice@Example.com"
	once := Normalize(raw)
	twice := Normalize(once)
	assert.Equal(t, once, twice)
}

func TestValidateBasic(t *testing.T) {
	addr, err := NormalizeAndValidate("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", addr.String())
	assert.Equal(t, "example.com", addr.Domain())
}

func TestValidateRejectsMalformed(t *testing.T) {
	cases := []string{
		"not-an-email",
		"@example.com",
		"alice@",
		"alice..bob@example.com",
		"alice@nodot",
	}
	for _, in := range cases {
		_, err := NormalizeAndValidate(in)
		assert.Error(t, err, "input=%q", in)
	}
}

func TestValidateRejectsLocalPartTooLong(t *testing.T) {
	local64 := ""
	for i := 0; i < 64; i++ {
		local64 += "a"
	}
	_, err := NormalizeAndValidate(local64 + "@example.com")
	assert.NoError(t, err)

	_, err = NormalizeAndValidate(local64 + "a@example.com")
	assert.Error(t, err)
}

func TestValidateRejectsHexDigestLocalPart(t *testing.T) {
	_, err := NormalizeAndValidate("d41d8cd98f00b204e9800998ecf8427e@sentry.io")
	assert.Error(t, err)
}

func TestValidateRejectsUUIDShapeLocalPart(t *testing.T) {
	_, err := NormalizeAndValidate("550e8400-e29b-41d4-a716-446655440000@example.com")
	assert.Error(t, err)
}

func TestValidateRejectsTelemetryHost(t *testing.T) {
	_, err := NormalizeAndValidate("noreply@sentry.io")
	assert.Error(t, err)
}
