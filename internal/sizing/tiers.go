package sizing

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TierRange maps a signal-notional range to a size multiplier. A nil Max
// means the range is open-ended.
type TierRange struct {
	Min        float64  `json:"min"`
	Max        *float64 `json:"max,omitempty"`
	Multiplier float64  `json:"multiplier"`
}

// Contains reports whether a signal notional falls inside the range. The
// upper bound is exclusive so adjacent ranges never both match.
func (r TierRange) Contains(notional float64) bool {
	if notional < r.Min {
		return false
	}
	return r.Max == nil || notional < *r.Max
}

// ParseTieredMultipliers parses a comma-separated list of
// "min-max:multiplier" or "min+:multiplier" segments into ordered ranges.
// At most one open-ended segment is allowed and only as the last one.
func ParseTieredMultipliers(spec string) ([]TierRange, error) {
	segments := strings.Split(spec, ",")
	tiers := make([]TierRange, 0, len(segments))

	for _, raw := range segments {
		seg := strings.TrimSpace(raw)
		if seg == "" {
			return nil, fmt.Errorf("empty tier segment in %q", spec)
		}

		parts := strings.Split(seg, ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed tier segment %q: want range:multiplier", seg)
		}

		mult, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("tier segment %q: multiplier %q is not numeric", seg, parts[1])
		}
		if mult < 0 {
			return nil, fmt.Errorf("tier segment %q: multiplier must not be negative", seg)
		}

		tier := TierRange{Multiplier: mult}
		rangePart := strings.TrimSpace(parts[0])

		if strings.HasSuffix(rangePart, "+") {
			min, err := strconv.ParseFloat(strings.TrimSuffix(rangePart, "+"), 64)
			if err != nil {
				return nil, fmt.Errorf("tier segment %q: lower bound %q is not numeric", seg, rangePart)
			}
			tier.Min = min
		} else {
			bounds := strings.Split(rangePart, "-")
			if len(bounds) != 2 {
				return nil, fmt.Errorf("malformed tier range %q: want min-max or min+", rangePart)
			}
			min, err := strconv.ParseFloat(strings.TrimSpace(bounds[0]), 64)
			if err != nil {
				return nil, fmt.Errorf("tier segment %q: lower bound %q is not numeric", seg, bounds[0])
			}
			max, err := strconv.ParseFloat(strings.TrimSpace(bounds[1]), 64)
			if err != nil {
				return nil, fmt.Errorf("tier segment %q: upper bound %q is not numeric", seg, bounds[1])
			}
			if max < min {
				return nil, fmt.Errorf("tier segment %q: upper bound %v is below lower bound %v", seg, max, min)
			}
			tier.Min = min
			tier.Max = &max
		}

		tiers = append(tiers, tier)
	}

	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Min < tiers[j].Min })

	for i := 0; i < len(tiers)-1; i++ {
		if tiers[i].Max == nil {
			return nil, fmt.Errorf("open-ended tier starting at %v must be the last segment", tiers[i].Min)
		}
		if tiers[i+1].Min < *tiers[i].Max {
			return nil, fmt.Errorf("tier starting at %v overlaps previous tier ending at %v",
				tiers[i+1].Min, *tiers[i].Max)
		}
	}

	return tiers, nil
}

// multiplierFor resolves the multiplier for a signal notional: tiered lookup
// first, then the scalar, defaulting to 1.0 when neither applies.
func multiplierFor(config Config, signalNotional float64) float64 {
	for _, tier := range config.TieredMultipliers {
		if tier.Contains(signalNotional) {
			return tier.Multiplier
		}
	}
	if len(config.TieredMultipliers) == 0 && config.TradeMultiplier > 0 {
		return config.TradeMultiplier
	}
	return 1.0
}
