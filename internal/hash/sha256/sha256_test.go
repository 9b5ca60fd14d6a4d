package sha256

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasher(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		body   string
		digest string
	}{
		{name: "empty snapshot", body: "", digest: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{name: "results body", body: "hello world", digest: "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"},
	}
	h := New()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := h.Hash([]byte(tc.body))
			require.NoError(t, err)
			assert.Equal(t, tc.digest, got)
			assert.Equal(t, `"`+tc.digest+`"`, h.ETag([]byte(tc.body)))
		})
	}
}

func TestETagChangesWithBody(t *testing.T) {
	t.Parallel()

	h := New()
	a := h.ETag([]byte(`{"results":[{"title":"a","reactions":3}]}`))
	b := h.ETag([]byte(`{"results":[{"title":"a","reactions":4}]}`))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, h.ETag([]byte(`{"results":[{"title":"a","reactions":3}]}`)))
}
