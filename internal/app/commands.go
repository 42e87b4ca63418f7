package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"restockbot/internal/coupang"
	"restockbot/internal/product"
	"restockbot/internal/registry"
	"restockbot/internal/storage"
	"restockbot/internal/transport"
	logx "restockbot/pkg/logx"
)

const helpText = `Paste a Coupang product URL (or use /add <url>) and I will watch it.
When the product is back in stock you get a message with a direct checkout link.

/add <url> - watch a product
/list - show watched products
/del <id> - stop watching (product or vendor item id)
/status - watcher status
/check - poll now
/help - this message`

func menuCommands() []transport.BotCommand {
	return []transport.BotCommand{
		{Command: "add", Description: "Watch a Coupang product URL"},
		{Command: "list", Description: "Show watched products"},
		{Command: "del", Description: "Stop watching a product"},
		{Command: "status", Description: "Watcher status"},
		{Command: "check", Description: "Poll now"},
		{Command: "help", Description: "How to use the bot"},
	}
}

func (a *App) commandLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-a.updates:
			if !ok {
				return nil
			}
			a.handle(ctx, m)
		}
	}
}

func (a *App) handle(ctx context.Context, m transport.Message) {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return
	}

	cmd, rest := splitCommand(text)
	switch cmd {
	case "start", "help":
		a.reply(ctx, m, helpText)
	case "add":
		a.cmdAdd(ctx, m, rest)
	case "del", "remove":
		a.cmdDel(ctx, m, rest)
	case "list":
		a.cmdList(ctx, m)
	case "status":
		a.cmdStatus(ctx, m)
	case "check":
		a.cmdCheck(ctx, m)
	case "":
		// Bare product links work without /add.
		if !coupang.ParseIDs(text).IsZero() {
			a.cmdAdd(ctx, m, text)
		}
	default:
		if !m.IsGroup {
			a.reply(ctx, m, "Unknown command. Try /help.")
		}
	}
}

// splitCommand returns the command name without the leading slash (empty
// for plain text) and the remaining arguments. A "@botname" suffix on
// the command token is ignored.
func splitCommand(text string) (cmd, rest string) {
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	head, tail, _ := strings.Cut(text[1:], " ")
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	return strings.ToLower(head), strings.TrimSpace(tail)
}

func (a *App) cmdAdd(ctx context.Context, m transport.Message, rest string) {
	started := time.Now()
	if rest == "" {
		a.reply(ctx, m, "Please enter the valid Coupang product URL.")
		return
	}
	id := coupang.ParseIDs(rest)
	if id.IsZero() {
		a.reply(ctx, m, "Invalid URL")
		a.audit(m, "add", "", errors.New("invalid url"), started)
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, time.Duration(a.fetchTimeout.Load()))
	info, err := a.client.ProductInfo(fetchCtx, m.ChatID, id)
	cancel()
	if err != nil {
		a.reply(ctx, m, "Product not available or removed. Please check the URL is valid.")
		a.audit(m, "add", id.Key(), err, started)
		return
	}
	if info.Invalid {
		a.reply(ctx, m, "Product no longer available.")
		a.audit(m, "add", id.Key(), errors.New("product invalid"), started)
		return
	}

	if !info.SoldOut {
		// Already in stock: hand over a checkout link instead of
		// registering a watch that would never fire.
		checkout, cerr := a.client.CheckoutURL(ctx, m.ChatID, id, info)
		msg := fmt.Sprintf("**👍In stock: [%s](%s)**", info.ItemName, a.client.ProductPageURL(id))
		if cerr == nil && checkout != "" {
			msg += "\n" + checkout
		}
		a.reply(ctx, m, msg)
		a.audit(m, "add", id.Key(), nil, started)
		return
	}

	err = a.reg.Register(product.Subscription{
		ChatID:   m.ChatID,
		Identity: id,
		ItemName: info.ItemName,
		AddedAt:  time.Now(),
	})
	if errors.Is(err, registry.ErrAlreadyRegistered) {
		a.reply(ctx, m, "It already registered.")
		a.audit(m, "add", id.Key(), err, started)
		return
	}
	a.reply(ctx, m, fmt.Sprintf("We will notify you when [%s](%s) is restocked.",
		info.ItemName, a.client.ProductPageURL(id)))
	a.audit(m, "add", id.Key(), nil, started)
}

func (a *App) cmdDel(ctx context.Context, m transport.Message, rest string) {
	started := time.Now()
	if rest == "" || !isDigits(rest) {
		a.reply(ctx, m, "Invalid ID")
		return
	}
	n := a.reg.UnregisterByChat(m.ChatID, func(sub product.Subscription) bool {
		return sub.Identity.ProductID == rest || sub.Identity.VendorItemID == rest
	})
	if n == 0 {
		a.reply(ctx, m, "Item not found")
		return
	}
	a.reply(ctx, m, "Item removed")
	a.audit(m, "del", rest, nil, started)
}

func (a *App) cmdList(ctx context.Context, m transport.Message) {
	subs := a.reg.ByChat(m.ChatID)
	if len(subs) == 0 {
		a.reply(ctx, m, "List is empty")
		return
	}
	var b strings.Builder
	for _, sub := range subs {
		name := sub.ItemName
		if name == "" {
			name = sub.Identity.Key()
		}
		ref := sub.Identity.VendorItemID
		if ref == "" {
			ref = sub.Identity.ProductID
		}
		fmt.Fprintf(&b, "%s - [%s](%s)\n", ref, name, a.client.ProductPageURL(sub.Identity))
	}
	a.reply(ctx, m, strings.TrimRight(b.String(), "\n"))
}

func (a *App) cmdStatus(ctx context.Context, m transport.Message) {
	var b strings.Builder
	fmt.Fprintf(&b, "Watching %d products for %d subscriptions.\n",
		len(a.reg.Targets()), a.reg.Len())
	if last := a.watcher.LastTick(); !last.IsZero() {
		fmt.Fprintf(&b, "Last poll: %s ago.", time.Since(last).Round(time.Second))
	} else {
		b.WriteString("No poll has run yet.")
	}
	a.reply(ctx, m, b.String())
}

func (a *App) cmdCheck(ctx context.Context, m transport.Message) {
	if a.reg.Len() == 0 {
		a.reply(ctx, m, "List is empty")
		return
	}
	if !a.watcher.TickNow(ctx) {
		a.reply(ctx, m, "A poll is already running.")
		return
	}
	a.reply(ctx, m, "Poll finished.")
}

func (a *App) reply(ctx context.Context, m transport.Message, text string) {
	err := a.adapter.SendText(ctx, transport.ChatTarget{ChatID: m.ChatID}, text, &transport.SendOptions{
		ParseMode:      "Markdown",
		DisablePreview: true,
	})
	if err != nil {
		a.log.Warn("reply failed", logx.Int64("chat", m.ChatID), logx.Err(err))
	}
}

func (a *App) audit(m transport.Message, action, target string, opErr error, started time.Time) {
	if a.store == nil {
		return
	}
	e := storage.AuditEntry{
		ID:       uuid.NewString(),
		At:       time.Now().UTC(),
		ChatID:   m.ChatID,
		Username: m.FromUsername,
		Action:   action,
		Target:   target,
		TookMS:   time.Since(started).Milliseconds(),
	}
	if opErr != nil {
		e.Error = opErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.store.AppendAudit(ctx, e); err != nil {
		a.log.Warn("audit append failed", logx.Err(err))
	}
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
