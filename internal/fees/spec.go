package fees

import "fmt"

// Spec is the declarative form of a schedule, loaded from the config file.
type Spec struct {
	Type     string  `yaml:"type"` // quadratic | flat | banded
	Rate     float64 `yaml:"rate"`
	FixedUSD float64 `yaml:"fixed_usd"`
	Bands    []struct {
		UpTo   float64 `yaml:"up_to"`
		PerFee float64 `yaml:"per_fee"`
	} `yaml:"bands"`
}

// Build turns a spec into a concrete schedule named after its venue.
func Build(venue string, spec Spec) (Schedule, error) {
	switch spec.Type {
	case "quadratic":
		if spec.Rate <= 0 {
			return nil, fmt.Errorf("fees: quadratic schedule for %s needs a positive rate", venue)
		}
		return QuadraticSchedule{Label: venue, Rate: spec.Rate}, nil
	case "flat", "":
		return FlatSchedule{Label: venue, FixedUSD: spec.FixedUSD, Rate: spec.Rate}, nil
	case "banded":
		bands := make([]Band, 0, len(spec.Bands))
		for _, b := range spec.Bands {
			bands = append(bands, Band{UpTo: b.UpTo, PerFee: b.PerFee})
		}
		return NewBandedSchedule(venue, bands)
	default:
		return nil, fmt.Errorf("fees: unknown schedule type %q for %s", spec.Type, venue)
	}
}
