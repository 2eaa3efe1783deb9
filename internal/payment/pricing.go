package payment

import (
	"fmt"

	"github.com/shopspring/decimal"

	"assetgate/internal/models"
)

// PriceTable holds the fixed per-resource prices in the smallest asset
// unit. Music is priced by requested duration in seconds.
type PriceTable struct {
	Image     int64
	Animation int64
	Music     map[int]int64
}

func (p PriceTable) Amount(kind models.ResourceKind, durationSeconds int) (int64, error) {
	switch kind {
	case models.KindImage:
		return p.Image, nil
	case models.KindAnimation:
		return p.Animation, nil
	case models.KindMusic:
		amount, ok := p.Music[durationSeconds]
		if !ok {
			return 0, fmt.Errorf("%w: music duration %ds", ErrNoPrice, durationSeconds)
		}
		return amount, nil
	default:
		return 0, fmt.Errorf("%w: kind %q", ErrNoPrice, kind)
	}
}

// HumanAmount renders an integer smallest-unit amount in whole-asset
// units for display. The integer string stays authoritative everywhere.
func HumanAmount(amount string, decimals int) string {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return ""
	}
	return d.Shift(int32(-decimals)).String()
}
