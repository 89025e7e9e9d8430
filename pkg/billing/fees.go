package billing

import (
	"github.com/anthev-stack/communitypledges/pkg/model"
)

// Quote computes the fee breakdown for a single charge: the platform cut,
// the processing fee the gateway keeps, and what is left for the server
// owner. Fees are rounded half up to whole cents, once.
func Quote(amount model.Cents) model.FeeQuote {
	platform := roundBps(amount, model.PlatformFeeBps)
	gateway := roundBps(amount, model.GatewayFeeBps) + model.GatewayFeeFixedCents

	return model.FeeQuote{
		PlatformFeeCents: platform,
		GatewayFeeCents:  gateway,
		NetToOwnerCents:  amount - platform - gateway,
	}
}

func roundBps(amount model.Cents, bps int) model.Cents {
	return model.Cents((int64(amount)*int64(bps) + 5000) / 10000)
}
