package util

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeString(t *testing.T) {
	cases := map[string]string{
		"password: hunter2 and more":      "password=REDACTED and more",
		`{"password":"hunter2"}`:          `{"password":"REDACTED"}`,
		"Authorization: Bearer abc.def":   "Authorization=REDACTED abc.def",
		"api_key=sk-12345 failed":         "api_key=REDACTED failed",
		"card 4111-1111-1111-1111 denied": "card REDACTED_CC denied",
		"nothing sensitive":               "nothing sensitive",
		"":                                "",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeString(in), "input: %q", in)
	}
}

func TestSanitizeError(t *testing.T) {
	assert.Equal(t, "", SanitizeError(nil))
	assert.Equal(t, "auth failed: token=REDACTED", SanitizeError(errors.New("auth failed: token=abc123")))
}

func TestRedactFieldsRecursesAndCopies(t *testing.T) {
	in := map[string]interface{}{
		"Password": "hunter2",
		"reason":   "login",
		"nested": map[string]interface{}{
			"ssn":  "123-45-6789",
			"note": "ok",
		},
	}

	out := RedactFields(in, []string{"password", "ssn"})

	assert.Equal(t, RedactedValue, out["Password"])
	assert.Equal(t, "login", out["reason"])
	nested := out["nested"].(map[string]interface{})
	assert.Equal(t, RedactedValue, nested["ssn"])
	assert.Equal(t, "ok", nested["note"])

	// Input untouched
	assert.Equal(t, "hunter2", in["Password"])
	assert.Equal(t, "123-45-6789", in["nested"].(map[string]interface{})["ssn"])
}

func TestRedactFieldsNil(t *testing.T) {
	assert.Nil(t, RedactFields(nil, []string{"password"}))
}

func TestAnonymizeIP(t *testing.T) {
	assert.Equal(t, "203.0.113.0", AnonymizeIP("203.0.113.87"))
	assert.Equal(t, "2001:db8:1:2::", AnonymizeIP("2001:db8:1:2:3:4:5:6"))
	assert.Equal(t, "not-an-ip", AnonymizeIP("not-an-ip"))
	assert.Equal(t, "", AnonymizeIP(""))
}

func TestStripUserAgentVersions(t *testing.T) {
	assert.Equal(t, "Mozilla (X11; Linux) Chrome", StripUserAgentVersions("Mozilla/5.0 (X11; Linux) Chrome/120.0.6099.71"))
	assert.Equal(t, "curl", StripUserAgentVersions("curl/8.4.0"))
	assert.Equal(t, "", StripUserAgentVersions(""))
}
