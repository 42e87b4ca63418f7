package notifier

import (
	"fmt"

	"restockbot/internal/product"
)

// Messages follow the original bot's wording so long-time users see the
// same alerts. Rendered as Telegram Markdown.

func renderRestock(name, pageURL, checkoutURL string, info product.Info) string {
	msg := fmt.Sprintf("**👍In stock: [%s](%s)**", name, pageURL)
	if info.AlmostSoldOut {
		msg += fmt.Sprintf(" ⌛️Almost sold out (%d remains)⌛️", info.Inventory)
	}
	if checkoutURL != "" {
		msg += "\n" + checkoutURL
	}
	return msg
}

func renderDiscontinued(name, pageURL string) string {
	return fmt.Sprintf("Product no longer available: [%s](%s)", name, pageURL)
}

// displayName picks the freshest human-readable name for a product: the
// just-fetched page name wins over whatever was stored at /add time.
func displayName(info product.Info, sub product.Subscription) string {
	if info.ItemName != "" {
		return info.ItemName
	}
	if sub.ItemName != "" {
		return sub.ItemName
	}
	return sub.Identity.Key()
}
