package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "abc", want: "****"},
		{in: "pi_123_secret_abcd5678", want: "pi_123_secret_****5678"},
		{in: "plainsecretvalue", want: "****alue"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MaskSecret(tc.in), tc.in)
	}
}

func TestMaskSensitive(t *testing.T) {
	got := MaskSensitive(map[string]any{
		"actor":         "admin:ops",
		"client_secret": "pi_1_secret_zzzz9999",
		"nested": map[string]any{
			"Token": "tok_abcdefgh",
			"plan":  "pro",
		},
		" ": "dropped",
	})

	assert.Equal(t, "admin:ops", got["actor"])
	assert.Equal(t, "pi_1_secret_****9999", got["client_secret"])
	nested, ok := got["nested"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested map, got %T", got["nested"])
	}
	assert.Equal(t, "tok_****efgh", nested["Token"])
	assert.Equal(t, "pro", nested["plan"])
	assert.NotContains(t, got, " ")
	assert.Nil(t, MaskSensitive(nil))
}
