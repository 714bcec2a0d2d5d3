package position

import (
	"errors"
	"testing"
)

func TestParseValid(t *testing.T) {
	t.Parallel()

	p, err := Parse(RawRecord{
		Key:            "pos1",
		InputAsset:     "SOL",
		OutputAsset:    "LOGOS",
		Deposited:      "123456789012345678901234567890",
		Withdrawn:      "1",
		AmountPerCycle: "1000",
		CycleFrequency: "60",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := p.Remaining().String(); got != "123456789012345678901234567889" {
		t.Fatalf("remaining = %s", got)
	}
	if p.CycleFrequency != 60 {
		t.Fatalf("freq = %d", p.CycleFrequency)
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	base := RawRecord{Key: "k", InputAsset: "A", OutputAsset: "B", Deposited: "10", Withdrawn: "0", AmountPerCycle: "1", CycleFrequency: "60"}
	cases := []struct {
		name  string
		mod   func(r *RawRecord)
		field string
	}{
		{"missing key", func(r *RawRecord) { r.Key = " " }, "publicKey"},
		{"missing input", func(r *RawRecord) { r.InputAsset = "" }, "inputMint"},
		{"negative remaining", func(r *RawRecord) { r.Withdrawn = "11" }, "inWithdrawn"},
		{"negative deposited", func(r *RawRecord) { r.Deposited = "-1" }, "inDeposited"},
		{"float amount", func(r *RawRecord) { r.AmountPerCycle = "1.5" }, "inAmountPerCycle"},
		{"zero frequency", func(r *RawRecord) { r.CycleFrequency = "0" }, "cycleFrequency"},
		{"bad frequency", func(r *RawRecord) { r.CycleFrequency = "soon" }, "cycleFrequency"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := base
			tc.mod(&r)
			_, err := Parse(r)
			if !errors.Is(err, ErrInvariant) {
				t.Fatalf("err = %v, want ErrInvariant", err)
			}
			var ie *InvariantError
			if !errors.As(err, &ie) || ie.Field != tc.field {
				t.Fatalf("err = %#v, want field %s", err, tc.field)
			}
		})
	}
}

func TestClassifyFirstMatchWins(t *testing.T) {
	t.Parallel()

	assets := []MonitoredAsset{{ID: "LOGOS", Detailed: true}, {ID: "CHAOS"}}

	cases := []struct {
		name  string
		in    string
		out   string
		asset string
		dir   Direction
		ok    bool
	}{
		{"buy logos", "SOL", "LOGOS", "LOGOS", Buying, true},
		{"sell chaos", "CHAOS", "SOL", "CHAOS", Selling, true},
		{"both, list order", "CHAOS", "LOGOS", "LOGOS", Buying, true},
		{"both reversed", "LOGOS", "CHAOS", "LOGOS", Selling, true},
		{"unrelated", "SOL", "USDC", "", 0, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c, ok := Classify(assets, Position{InputAsset: tc.in, OutputAsset: tc.out})
			if ok != tc.ok {
				t.Fatalf("ok = %v", ok)
			}
			if !ok {
				return
			}
			if c.Asset.ID != tc.asset || c.Direction != tc.dir {
				t.Fatalf("got %s/%s, want %s/%s", c.Asset.ID, c.Direction, tc.asset, tc.dir)
			}
		})
	}
}
