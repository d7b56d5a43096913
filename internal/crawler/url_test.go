package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"HTTPS://Shop.Test/Products/Sofa", "https://shop.test/Products/Sofa"},
		{"http://shop.test:80/p/1", "http://shop.test/p/1"},
		{"https://shop.test:443/p/1", "https://shop.test/p/1"},
		{"https://shop.test:8443/p/1", "https://shop.test:8443/p/1"},
		{"https://shop.test/p/1?utm_source=mail#reviews", "https://shop.test/p/1"},
	}
	for _, tc := range cases {
		got, err := CanonicalURL(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestSameHost(t *testing.T) {
	t.Parallel()

	assert.True(t, SameHost("https://www.shop.test/a", "https://shop.test/b"))
	assert.True(t, SameHost("http://SHOP.test", "https://shop.test/x"))
	assert.False(t, SameHost("https://shop.test", "https://cdn.shop.test"))
	assert.False(t, SameHost("not a url", "https://shop.test"))
}

func TestSiteRoot(t *testing.T) {
	t.Parallel()

	root, err := SiteRoot("https://shop.test/products/sofa?x=1")
	require.NoError(t, err)
	assert.Equal(t, "https://shop.test", root)

	_, err = SiteRoot("/relative/only")
	require.Error(t, err)
}

func TestResolveRef(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://shop.test/p/2", ResolveRef("https://shop.test/p/1", "/p/2"))
	assert.Equal(t, "https://cdn.test/i.jpg", ResolveRef("https://shop.test/p/1", "https://cdn.test/i.jpg"))
}
