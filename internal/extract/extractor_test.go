package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/loferreiranuno/momarq-crawler/internal/crawler"
)

const jsonLDPage = `<html><head>
<script type="application/ld+json">
{
  "@context": "https://schema.org",
  "@type": "Product",
  "name": "Oak Table",
  "description": "Solid oak dining table",
  "sku": "OAK-100",
  "image": [{"url": "https://shop.test/img/oak1.jpg"}, "https://shop.test/img/oak2.jpg"],
  "offers": [{"@type": "Offer", "price": "1.299,00", "priceCurrency": "EUR"}]
}
</script>
<script type="application/ld+json">not valid json</script>
<script type="application/ld+json">
{"@graph": [
  {"@type": "BreadcrumbList"},
  {"@type": "Product", "offers": {"price": 10}},
  {"@type": ["Thing", "Product"], "name": "Oak Chair", "sku": "OAK-200",
   "image": "https://shop.test/img/chair.jpg",
   "offers": {"@type": "Offer", "price": 249.5, "priceCurrency": "EUR"}}
]}
</script>
</head><body></body></html>`

func TestExtractStructuredProducts(t *testing.T) {
	t.Parallel()

	e := New(zap.NewNop())
	products, err := e.Products("https://shop.test/tables", []byte(jsonLDPage), crawler.Config{})
	require.NoError(t, err)
	require.Len(t, products, 2, "nameless product and breadcrumb must be dropped")

	table := products[0]
	assert.Equal(t, "Oak Table", table.Name)
	assert.Equal(t, "OAK-100", table.ExternalID)
	assert.InDelta(t, 1299.0, table.Price, 0.001)
	assert.Equal(t, "EUR", table.Currency)
	assert.Equal(t, []string{"https://shop.test/img/oak1.jpg", "https://shop.test/img/oak2.jpg"}, table.ImageURLs)
	assert.NotEmpty(t, table.RawPayload)

	chair := products[1]
	assert.Equal(t, "Oak Chair", chair.Name)
	assert.InDelta(t, 249.5, chair.Price, 0.001)
	assert.Equal(t, []string{"https://shop.test/img/chair.jpg"}, chair.ImageURLs)
}

const selectorPage = `<html><body>
<div class="product-card">
  <h2 class="title">Walnut Desk</h2>
  <span class="price">€ 799,00</span>
  <a class="more" href="/products/walnut-desk">details</a>
  <img class="photo" src="/img/desk.jpg">
</div>
<div class="product-card">
  <span class="price">€ 1,00</span>
</div>
</body></html>`

func TestExtractSelectorProducts(t *testing.T) {
	t.Parallel()

	cfg := crawler.Config{
		ContainerSelector: "div.product-card",
		NameSelector:      ".title",
		PriceSelector:     ".price",
		LinkSelector:      "a.more",
		ImageSelector:     "img.photo",
	}

	e := New(zap.NewNop())
	products, err := e.Products("https://shop.test/desks", []byte(selectorPage), cfg)
	require.NoError(t, err)
	require.Len(t, products, 1, "container without a name must be dropped")

	desk := products[0]
	assert.Equal(t, "Walnut Desk", desk.Name)
	assert.InDelta(t, 799.0, desk.Price, 0.001)
	assert.Equal(t, "https://shop.test/products/walnut-desk", desk.ProductURL)
	assert.Equal(t, []string{"https://shop.test/img/desk.jpg"}, desk.ImageURLs)
}

const fallbackPage = `<html><head>
<meta property="og:type" content="product">
<meta property="og:title" content="Pine Shelf">
<meta property="og:description" content="Wall-mounted shelf">
<meta property="og:image" content="https://shop.test/img/shelf.jpg">
<meta property="og:url" content="https://shop.test/shelf">
<meta property="product:price:amount" content="59.95">
<meta property="product:price:currency" content="USD">
</head><body></body></html>`

func TestExtractFallbackOnlyForProductPages(t *testing.T) {
	t.Parallel()

	e := New(zap.NewNop())
	products, err := e.Products("https://shop.test/shelf?ref=home", []byte(fallbackPage), crawler.Config{})
	require.NoError(t, err)
	require.Len(t, products, 1)

	shelf := products[0]
	assert.Equal(t, "Pine Shelf", shelf.Name)
	assert.InDelta(t, 59.95, shelf.Price, 0.001)
	assert.Equal(t, "USD", shelf.Currency)
	assert.Equal(t, "https://shop.test/shelf", shelf.ProductURL)

	nonProduct := `<html><head><meta property="og:type" content="article">
<meta property="og:title" content="Our story"></head><body></body></html>`
	products, err = e.Products("https://shop.test/about", []byte(nonProduct), crawler.Config{})
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestExtractFallbackSkippedWhenEarlierLayersMatch(t *testing.T) {
	t.Parallel()

	page := `<html><head>
<meta property="og:type" content="product">
<meta property="og:title" content="Metadata Name">
<script type="application/ld+json">{"@type":"Product","name":"Structured Name","sku":"S-9"}</script>
</head><body></body></html>`

	e := New(zap.NewNop())
	products, err := e.Products("https://shop.test/p", []byte(page), crawler.Config{})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Structured Name", products[0].Name)
}

const linksPage = `<html><body>
<a href="/products/one?page=2#top">one</a>
<a href="https://shop.test/products/two">two</a>
<a href="https://elsewhere.test/three">offsite</a>
<a href="/products/one">one again</a>
<nav class="pager"><a href="/products?page=3">next</a></nav>
</body></html>`

func TestExtractLinks(t *testing.T) {
	t.Parallel()

	e := New(zap.NewNop())
	links, err := e.Links("https://shop.test/products", []byte(linksPage), "nav.pager")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://shop.test/products/one",
		"https://shop.test/products/two",
	}, links[:2], "same-domain anchors, canonicalized and deduplicated")
	assert.Contains(t, links, "https://shop.test/products", "pagination target stripped of query")
	assert.NotContains(t, links, "https://elsewhere.test/three")
}
