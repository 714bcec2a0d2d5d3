// Package render turns tracker output into notification text.
//
// Field labels ("Total Amount:", "Amount Per Cycle:", "Frequency:", ...) are
// matched by downstream parsers and must stay stable.
package render

import (
	"fmt"
	"html"
	"math/big"
	"strings"

	"dcawatch/internal/amount"
	"dcawatch/internal/asset"
	"dcawatch/internal/position"
)

const (
	LabelDirection      = "Direction:"
	LabelTotalAmount    = "Total Amount:"
	LabelAmountPerCycle = "Amount Per Cycle:"
	LabelFrequency      = "Frequency:"
	LabelPosition       = "Position:"
	LabelBuyOrders      = "Buy Orders:"
	LabelSellOrders     = "Sell Orders:"
	LabelBuyVolume      = "Buy Volume:"
	LabelSellVolume     = "Sell Volume:"
)

const DefaultExplorerURL = "https://solscan.io/account/%s"

// unavailable replaces any value that could not be rendered.
const unavailable = "n/a"

type Renderer struct {
	explorer string
	assets   asset.Resolver
}

// New builds a renderer. explorerURL may contain a single %s for the
// position key; without one the key is appended as a path segment.
func New(explorerURL string, assets asset.Resolver) *Renderer {
	if assets == nil {
		assets = asset.NewRegistry()
	}
	return &Renderer{explorer: strings.TrimSpace(explorerURL), assets: assets}
}

func (r *Renderer) symbol(id string) string {
	return html.EscapeString(r.assets.Resolve(id).Symbol)
}

func (r *Renderer) units(v *big.Int, id string) string {
	info := r.assets.Resolve(id)
	return amount.FormatUnits(v, info.Decimals) + " " + html.EscapeString(info.Symbol)
}

// PositionURL links a position key to the block explorer.
func (r *Renderer) PositionURL(key string) string {
	switch {
	case r.explorer == "":
		return key
	case strings.Contains(r.explorer, "%s"):
		return fmt.Sprintf(r.explorer, key)
	default:
		return strings.TrimRight(r.explorer, "/") + "/" + key
	}
}

// Change renders a created or closed position. It never panics; a
// formatting failure yields a shorter message with placeholders.
func (r *Renderer) Change(ev position.ChangeEvent) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			out = fmt.Sprintf("DCA position %s %s\n%s %s", ev.Position.Key, ev.Kind, LabelTotalAmount, unavailable)
		}
	}()

	p := ev.Position
	sym := r.symbol(ev.Classification.Asset.ID)

	var b strings.Builder
	switch ev.Kind {
	case position.Closed:
		fmt.Fprintf(&b, "✅ %s DCA Position Closed\n", sym)
	default:
		fmt.Fprintf(&b, "🔄 New %s DCA Position Created\n", sym)
	}

	dir := "Buy"
	if ev.Classification.Direction == position.Selling {
		dir = "Sell"
	}
	fmt.Fprintf(&b, "%s %s (%s → %s)\n", LabelDirection, dir, r.symbol(p.InputAsset), r.symbol(p.OutputAsset))
	fmt.Fprintf(&b, "%s %s\n", LabelTotalAmount, r.units(p.Remaining(), p.InputAsset))
	fmt.Fprintf(&b, "%s %s\n", LabelAmountPerCycle, r.units(p.AmountPerCycle, p.InputAsset))
	fmt.Fprintf(&b, "%s Every %d seconds\n", LabelFrequency, p.CycleFrequency)
	fmt.Fprintf(&b, "%s %s", LabelPosition, r.PositionURL(p.Key))
	return b.String()
}

// Summary renders one aggregate block per monitored asset.
func (r *Renderer) Summary(s position.Summary) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			out = "📊 DCA Summary\n" + unavailable
		}
	}()

	var b strings.Builder
	b.WriteString("📊 DCA Summary")
	for _, a := range s.Assets {
		b.WriteString("\n\n")
		b.WriteString(r.symbol(a.Asset.ID))
		fmt.Fprintf(&b, "\n%s %d", LabelBuyOrders, a.BuyOrders)
		fmt.Fprintf(&b, "\n%s %d", LabelSellOrders, a.SellOrders)
		// Buy volume is only aggregated against a quote asset.
		if a.Asset.Quote != "" {
			fmt.Fprintf(&b, "\n%s %s", LabelBuyVolume, r.units(a.BuyVolume, a.Asset.Quote))
		}
		fmt.Fprintf(&b, "\n%s %s", LabelSellVolume, r.units(a.SellVolume, a.Asset.ID))
	}
	return b.String()
}

// Startup is the notice sent once when monitoring begins.
func (r *Renderer) Startup(assets []position.MonitoredAsset) string {
	names := make([]string, 0, len(assets))
	for _, a := range assets {
		names = append(names, r.symbol(a.ID))
	}
	if len(names) == 0 {
		return "Monitor starting up (no assets configured)"
	}
	return fmt.Sprintf("Monitor starting up and watching for %s DCA orders...", strings.Join(names, ", "))
}
