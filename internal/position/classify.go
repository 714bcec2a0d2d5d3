package position

// MonitoredAsset is one entry of the ordered monitored-asset list.
type MonitoredAsset struct {
	ID string
	// Detailed assets get a notification per created/closed position.
	Detailed bool
	// Quote is the asset buy volume is measured in. Without one, buy volume
	// is not aggregated.
	Quote string
}

type Direction int

const (
	Buying Direction = iota + 1
	Selling
)

func (d Direction) String() string {
	switch d {
	case Buying:
		return "buy"
	case Selling:
		return "sell"
	default:
		return "unknown"
	}
}

// Classification ties a position to the monitored asset it belongs to.
type Classification struct {
	Asset     MonitoredAsset
	Direction Direction
}

// Classify returns the first monitored asset, in list order, that the
// position touches. A position buys the asset when its output is the asset
// and sells it when its input is the asset.
func Classify(assets []MonitoredAsset, p Position) (Classification, bool) {
	for _, a := range assets {
		switch a.ID {
		case p.OutputAsset:
			return Classification{Asset: a, Direction: Buying}, true
		case p.InputAsset:
			return Classification{Asset: a, Direction: Selling}, true
		}
	}
	return Classification{}, false
}
