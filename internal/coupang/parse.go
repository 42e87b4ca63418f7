package coupang

import (
	"regexp"

	"restockbot/internal/product"
)

// Coupang product links arrive in three shapes:
//
//	https://link.coupang.com/re/CSHARESDP?lptag=..&pageKey=<productId>&vendorItemId=<vendorItemId>
//	https://m.coupang.com/vm/products/<productId>?vendorItemId=<vendorItemId>
//	https://www.coupang.com/vp/products/<productId>?vendorItemId=<vendorItemId>
var (
	reCoupangURL   = regexp.MustCompile(`link\.coupang\.com|m\.coupang\.com/vm/|www\.coupang\.com/vp/`)
	reProductID    = regexp.MustCompile(`(pageKey=|products/)(?P<productId>[0-9]+)`)
	reVendorItemID = regexp.MustCompile(`vendorItemId=(?P<vendorItemId>[0-9]+)`)
)

// ParseIDs extracts a product identity from free-form message text.
// The zero Identity is returned when no Coupang product URL is present.
func ParseIDs(text string) product.Identity {
	if !reCoupangURL.MatchString(text) {
		return product.Identity{}
	}
	m := reProductID.FindStringSubmatch(text)
	if m == nil {
		return product.Identity{}
	}
	id := product.Identity{ProductID: m[2]}
	if vm := reVendorItemID.FindStringSubmatch(text); vm != nil {
		id.VendorItemID = vm[1]
	}
	return id
}
