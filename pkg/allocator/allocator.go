package allocator

import (
	"sort"

	"github.com/anthev-stack/communitypledges/pkg/model"
)

// Result is the outcome of allocating a server's monthly cost across pledges.
type Result struct {
	// Charges holds the amount each payer is billed this cycle,
	// index-aligned with the caps passed to Allocate.
	Charges []model.Cents

	// AcceptingNewPledges reports whether the server can admit more payers.
	AcceptingNewPledges bool

	// MaxAdmitted is the hard cap on how many payers the server can
	// ever support at the minimum charge.
	MaxAdmitted int

	// ShortfallCents is the part of the monthly cost not covered by the
	// charges. Non-zero while the server is under-funded, surfaced to the
	// owner rather than masked.
	ShortfallCents model.Cents

	// Anomaly is set when the excess over the monthly cost cannot be
	// removed without driving payers below the minimum charge. This is
	// unreachable while the admission cap holds and indicates
	// inconsistent data.
	Anomaly bool
}

// MaxAdmitted returns how many payers a server of the given cost can
// support at the minimum per-person charge.
func MaxAdmitted(totalCost, minPerPerson model.Cents) int {
	if totalCost <= 0 || minPerPerson <= 0 {
		return 0
	}
	return int(totalCost / minPerPerson)
}

// Admits reports whether a server with pledgeCount active pledges can
// accept one more.
func Admits(pledgeCount int, totalCost, minPerPerson model.Cents) bool {
	return pledgeCount < MaxAdmitted(totalCost, minPerPerson)
}

// Allocate splits a fixed monthly cost across payer caps.
//
// Every charge stays within [minPerPerson, cap] for payers whose cap is at
// least the minimum. When the caps over-fund the cost, the overage is taken
// from payers proportionally to their headroom above the minimum. The sum
// of charges never exceeds totalCost.
//
// Allocate is pure: every caller (live projection, scheduling, settlement)
// must go through it so the numbers they show and bill never diverge.
func Allocate(caps []model.Cents, totalCost, minPerPerson model.Cents) Result {
	res := Result{
		MaxAdmitted: MaxAdmitted(totalCost, minPerPerson),
	}

	if len(caps) == 0 {
		res.AcceptingNewPledges = res.MaxAdmitted > 0
		res.ShortfallCents = totalCost
		return res
	}

	res.Charges = make([]model.Cents, len(caps))

	// Admission cap reached: everyone pays exactly the minimum,
	// regardless of the funding level.
	if len(caps) >= res.MaxAdmitted {
		var total model.Cents
		for i := range caps {
			res.Charges[i] = minPerPerson
			total += minPerPerson
		}
		if total < totalCost {
			res.ShortfallCents = totalCost - total
		}
		return res
	}

	var sum model.Cents
	for _, c := range caps {
		sum += c
	}

	// Under-funded: everyone is charged their full cap.
	if sum < totalCost {
		copy(res.Charges, caps)
		res.AcceptingNewPledges = true
		res.ShortfallCents = totalCost - sum
		return res
	}

	excess := sum - totalCost
	charges := reduceProportionally(caps, excess, minPerPerson, &res)
	copy(res.Charges, charges)

	res.AcceptingNewPledges = len(caps) < res.MaxAdmitted
	return res
}

// reduceProportionally removes excess cents from payers above the minimum
// charge, proportionally to each payer's headroom. Cents are integral, so
// the floored shares are topped up largest-remainder first until the
// reductions sum exactly to the excess.
func reduceProportionally(caps []model.Cents, excess, minPerPerson model.Cents, res *Result) []model.Cents {
	charges := make([]model.Cents, len(caps))
	copy(charges, caps)

	var (
		eligible  []int
		reducible model.Cents
	)
	for i, c := range caps {
		if c > minPerPerson {
			eligible = append(eligible, i)
			reducible += c - minPerPerson
		}
	}

	if excess > reducible {
		// Unreachable while the admission cap invariant holds. Drive
		// everyone to the floor and report the rest, the caller logs it.
		for _, i := range eligible {
			charges[i] = minPerPerson
		}
		res.Anomaly = true
		res.ShortfallCents = excess - reducible
		return charges
	}

	if excess == 0 || reducible == 0 {
		return charges
	}

	type share struct {
		idx       int
		cut       model.Cents
		remainder model.Cents
	}

	shares := make([]share, 0, len(eligible))
	var distributed model.Cents
	for _, i := range eligible {
		headroom := caps[i] - minPerPerson
		num := excess * headroom
		s := share{
			idx:       i,
			cut:       num / reducible,
			remainder: num % reducible,
		}
		distributed += s.cut
		shares = append(shares, s)
	}

	// Hand out the rounding leftover one cent at a time, largest
	// remainder first. While excess < reducible every eligible payer has
	// at least one cent of slack, so a single pass always terminates.
	leftover := excess - distributed
	sort.SliceStable(shares, func(a, b int) bool {
		return shares[a].remainder > shares[b].remainder
	})
	for i := range shares {
		if leftover == 0 {
			break
		}
		if shares[i].cut < caps[shares[i].idx]-minPerPerson {
			shares[i].cut++
			leftover--
		}
	}

	for _, s := range shares {
		charges[s.idx] = caps[s.idx] - s.cut
	}
	return charges
}
