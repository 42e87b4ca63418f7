package coupang

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"restockbot/internal/product"
)

const redirectAppBase = "https://sjang1.github.io/openApp/coupang/direct-checkout/"

type directOrderResponse struct {
	OrderCheckoutURL *struct {
		CheckoutID string `json:"checkoutId"`
		RequestURL string `json:"requestUrl"`
	} `json:"orderCheckoutUrl"`
}

// CheckoutURL creates a direct-order checkout session for the product and
// returns a link that opens it in the Coupang app.
//
// Checkout creation can fail even while the product is in stock (session
// expiry, site-side rejection); callers degrade their message rather than
// dropping the notification.
func (c *Client) CheckoutURL(ctx context.Context, chatID int64, id product.Identity, info product.Info) (string, error) {
	if id.VendorItemID == "" {
		return "", errors.New("coupang: checkout requires a vendor item id")
	}
	quantity := 1

	form := url.Values{}
	form.Set("items[]", fmt.Sprintf("%s:+%d", id.VendorItemID, quantity))
	form.Set("clickProductId", id.ProductID)
	form.Set("landProductId", id.ProductID)
	form.Set("preOrder", fmt.Sprintf("%t", info.IsPreOrder))

	u := c.cfg.BaseURL + "/vp/direct-order/" + url.PathEscape(id.ProductID) + "/items"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req, chatID)
	if err != nil {
		return "", err
	}

	var resp directOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("coupang: direct-order decode: %w", err)
	}
	if resp.OrderCheckoutURL == nil || resp.OrderCheckoutURL.RequestURL == "" {
		return "", errors.New("coupang: no checkout url in direct-order response")
	}

	return c.redirectAppURL(resp.OrderCheckoutURL.CheckoutID, id.VendorItemID, quantity), nil
}

// redirectAppURL wraps a checkout session so it opens inside the Coupang
// app (required for the checkout to carry over the session).
func (c *Client) redirectAppURL(checkoutID, vendorItemID string, quantity int) string {
	u := redirectAppBase + "?" +
		"CID=" + url.QueryEscape(checkoutID) +
		"&VID=" + url.QueryEscape(vendorItemID) +
		"&Q=" + fmt.Sprintf("%d", quantity)
	if c.cfg.AffiliateID != "" {
		u += "&R=" + url.QueryEscape(c.cfg.AffiliateID)
	}
	return u
}

// ProductPageURL renders the canonical desktop link for a product.
func (c *Client) ProductPageURL(id product.Identity) string {
	u := c.cfg.BaseURL + "/vp/products/" + id.ProductID
	if id.VendorItemID != "" {
		u += "?vendorItemId=" + id.VendorItemID
	}
	return u
}
