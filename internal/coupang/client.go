// Package coupang scrapes Coupang product pages: current availability and
// direct-checkout references. The rest of the bot only sees the
// product.Info shape and an opaque checkout URL, never the scraping
// mechanics.
package coupang

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"restockbot/internal/product"
	logx "restockbot/pkg/logx"
)

const (
	defaultBaseURL   = "https://www.coupang.com"
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.17; rv:84.0) Gecko/20100101 Firefox/84.0"

	// maxBodyBytes bounds how much of a product page we read while looking
	// for the embedded sdp blob.
	maxBodyBytes = 4 << 20
)

// ErrNoProductData means the page came back but carried no product blob:
// wrong page shape, bot challenge, or a removed product. The watcher
// treats it as transient; the add flow reports "not available".
var ErrNoProductData = errors.New("coupang: product data not found in page")

// The product page embeds its data as a script assignment:
//
//	exports.sdp = {...};
var reSDP = regexp.MustCompile(`exports\.sdp = (?P<sdp>.+);`)

// sdpPayload is the slice of the embedded blob the bot cares about.
type sdpPayload struct {
	ItemName        string           `json:"itemName"`
	ItemID          int64            `json:"itemId"`
	SoldOut         bool             `json:"soldOut"`
	Invalid         bool             `json:"invalid"`
	AlmostSoldOut   bool             `json:"almostSoldOut"`
	Inventory       *int             `json:"inventory"` // set only when almostSoldOut
	BuyableQuantity int              `json:"buyableQuantity"`
	PreOrderVo      *json.RawMessage `json:"preOrderVo"`
}

type Config struct {
	BaseURL     string
	UserAgent   string
	AffiliateID string
}

// Client fetches product pages and checkout references. Requests carry a
// per-chat cookie jar so Coupang sees a continuous session per user; the
// jars live in memory only.
type Client struct {
	cfg  Config
	log  logx.Logger
	http *http.Client

	jarMu sync.Mutex
	jars  map[int64]http.CookieJar
}

func New(cfg Config, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:  cfg,
		log:  log,
		http: &http.Client{}, // deadlines come from the caller's context
		jars: map[int64]http.CookieJar{},
	}
}

// jarFor returns the cookie jar for one chat, creating it on first use.
// Chat 0 is the watcher's shared session.
func (c *Client) jarFor(chatID int64) http.CookieJar {
	c.jarMu.Lock()
	defer c.jarMu.Unlock()
	if j, ok := c.jars[chatID]; ok {
		return j
	}
	j, err := cookiejar.New(nil)
	if err != nil {
		return nil
	}
	c.jars[chatID] = j
	return j
}

// ProductInfo fetches the product page and extracts availability.
//
// chatID selects the session cookie jar (0 for the shared watcher
// session). Network failures and missing page data surface as errors;
// a discontinued product comes back with Info.Invalid set, not an error.
func (c *Client) ProductInfo(ctx context.Context, chatID int64, id product.Identity) (product.Info, error) {
	u := c.cfg.BaseURL + "/vp/products/" + url.PathEscape(id.ProductID)
	if id.VendorItemID != "" {
		u += "?vendorItemId=" + url.QueryEscape(id.VendorItemID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return product.Info{}, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	body, err := c.do(req, chatID)
	if err != nil {
		return product.Info{}, err
	}

	m := reSDP.FindSubmatch(body)
	if m == nil {
		c.log.Debug("sdp blob not found", logx.String("product", id.Key()))
		return product.Info{}, ErrNoProductData
	}

	var sdp sdpPayload
	if err := json.Unmarshal(m[1], &sdp); err != nil {
		return product.Info{}, fmt.Errorf("coupang: sdp decode: %w", err)
	}

	info := product.Info{
		ItemName:        sdp.ItemName,
		ItemID:          sdp.ItemID,
		SoldOut:         sdp.SoldOut,
		Invalid:         sdp.Invalid,
		AlmostSoldOut:   sdp.AlmostSoldOut,
		BuyableQuantity: sdp.BuyableQuantity,
		IsPreOrder:      sdp.PreOrderVo != nil,
	}
	if sdp.Inventory != nil {
		info.Inventory = *sdp.Inventory
	}
	return info, nil
}

func (c *Client) do(req *http.Request, chatID int64) ([]byte, error) {
	// Swap the jar per request: http.Client is otherwise shareable.
	client := *c.http
	client.Jar = c.jarFor(chatID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("coupang: unexpected status %d for %s", resp.StatusCode, req.URL.Path)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return b, nil
}
