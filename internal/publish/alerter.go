package publish

import (
	"context"
	"fmt"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/webhook"

	"github.com/deenoize/crypto-p2p-ai/internal/adapter"
	"github.com/deenoize/crypto-p2p-ai/internal/engine"
	"github.com/deenoize/crypto-p2p-ai/internal/logger"
	"github.com/deenoize/crypto-p2p-ai/internal/poller"
)

// EmbedSender is the part of webhook.Client the alerter uses.
type EmbedSender interface {
	CreateEmbeds(embeds []discord.Embed, opts ...rest.RequestOpt) (*discord.Message, error)
}

// NewWebhook opens a Discord webhook client from its URL.
func NewWebhook(url string) (webhook.Client, error) {
	return webhook.NewWithURL(url)
}

// Alerter posts a Discord embed for each new opportunity at or above
// MinSpreadPercent. An opportunity is new when its key (see alertKey) was
// not present in the previous cycle of the same pair.
type Alerter struct {
	client           EmbedSender
	feed             <-chan poller.Result
	minSpreadPercent float64
	log              *logger.Logger

	seen map[string]map[string]struct{} // pair key -> order-id pairs
}

// NewAlerter creates an Alerter reading from a Broadcaster subscription.
func NewAlerter(client EmbedSender, feed <-chan poller.Result, minSpreadPercent float64, log *logger.Logger) *Alerter {
	return &Alerter{
		client:           client,
		feed:             feed,
		minSpreadPercent: minSpreadPercent,
		log:              log.With(logger.F("component", "alerter")),
		seen:             make(map[string]map[string]struct{}),
	}
}

// Run alerts on every result until ctx is cancelled or the feed closes.
func (a *Alerter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-a.feed:
			if !ok {
				return
			}
			a.Alert(ctx, res)
		}
	}
}

// Alert sends one embed per new qualifying opportunity in res and returns
// how many were sent.
func (a *Alerter) Alert(ctx context.Context, res poller.Result) int {
	pair := res.Pair.Key()
	prev := a.seen[pair]
	current := make(map[string]struct{}, len(res.Opportunities))

	var sent int
	for _, o := range res.Opportunities {
		if o.SpreadPercent < a.minSpreadPercent {
			continue
		}
		id := alertKey(o)
		current[id] = struct{}{}
		if _, dup := prev[id]; dup {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		if _, err := a.client.CreateEmbeds([]discord.Embed{opportunityEmbed(res.Pair.String(), o)}); err != nil {
			a.log.Error(err, logger.F("buy_order", o.BuyOrderID), logger.F("sell_order", o.SellOrderID))
			delete(current, id)
			continue
		}
		sent++
	}

	a.seen[pair] = current
	return sent
}

// alertKey identifies an opportunity across cycles by its two legs. A leg
// with a native order id is keyed by that id. A leg whose id was generated
// changes id every cycle, so it is keyed by exchange, price and merchant.
func alertKey(o engine.Opportunity) string {
	buy := legKey(o.BuyExchange, o.BuyOrderID, o.BuyIDGenerated, o.BuyPrice.String(), o.BuyMerchant.Name)
	sell := legKey(o.SellExchange, o.SellOrderID, o.SellIDGenerated, o.SellPrice.String(), o.SellMerchant.Name)
	return buy + "|" + sell
}

func legKey(ex adapter.Exchange, id string, generated bool, price, merchant string) string {
	if !generated {
		return string(ex) + ":" + id
	}
	return string(ex) + ":" + price + "@" + merchant
}

func opportunityEmbed(pair string, o engine.Opportunity) discord.Embed {
	return discord.NewEmbedBuilder().
		SetTitle(fmt.Sprintf("P2P arbitrage %s: %.2f%%", pair, o.SpreadPercent)).
		SetColor(0x00ff00).
		AddField("Buy On", string(o.BuyExchange), true).
		AddField("Sell On", string(o.SellExchange), true).
		AddField("Pair", pair, true).
		AddField("\u200B", "\u200B", false).
		AddField("Buy Price", o.BuyPrice.String(), true).
		AddField("Sell Price", o.SellPrice.String(), true).
		AddField("Spread", o.Spread.String(), true).
		AddField("Min Amount", o.MinAmount.String(), true).
		AddField("Max Amount", o.MaxAmount.String(), true).
		AddField("\u200B", "\u200B", false).
		AddField("Buy Merchant", merchantLine(o.BuyMerchant), true).
		AddField("Sell Merchant", merchantLine(o.SellMerchant), true).
		AddField("Payment", strings.Join(o.BuyPaymentMethods, ", ")+" / "+strings.Join(o.SellPaymentMethods, ", "), false).
		Build()
}

func merchantLine(m engine.MerchantSummary) string {
	name := m.Name
	if name == "" {
		name = "unknown"
	}
	return fmt.Sprintf("%s (%.0f%%, risk %.0f)", name, m.CompletionRate*100, m.RiskScore)
}
