package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/anthev-stack/communitypledges/pkg/model"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		name     string
		amount   model.Cents
		platform model.Cents
		gateway  model.Cents
	}{
		{"ten dollars", 1000, 10, 59},
		{"full server cost", 4000, 40, 146},
		{"odd amount", 2391, 24, 99},
		{"minimum charge", 200, 2, 36},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			quote := Quote(tc.amount)

			assert.Equal(t, tc.platform, quote.PlatformFeeCents)
			assert.Equal(t, tc.gateway, quote.GatewayFeeCents)
			assert.Equal(t, tc.amount-tc.platform-tc.gateway, quote.NetToOwnerCents)
		})
	}
}
