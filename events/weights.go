package events

import "twitch-chat-analytics/model"

// Weights — веса вклада событий в рейтинг контрибьюторов.
type Weights struct {
	Follow         float64         `json:"follow" yaml:"follow"`
	Subscription   float64         `json:"subscription" yaml:"subscription"`
	SubTierFactor  map[int]float64 `json:"sub_tier_factor" yaml:"sub_tier_factor"`
	CheerPerBit    float64         `json:"cheer_per_bit" yaml:"cheer_per_bit"`
	RaidPerViewer  float64         `json:"raid_per_viewer" yaml:"raid_per_viewer"`
	CharityPerUnit float64         `json:"charity_per_unit" yaml:"charity_per_unit"`
	Redemption     float64         `json:"redemption" yaml:"redemption"`
}

// DefaultWeights: подписка T1 весит как 1000 bits, зритель рейда как 20 bits.
func DefaultWeights() Weights {
	return Weights{
		Follow:         1,
		Subscription:   10,
		SubTierFactor:  map[int]float64{1: 1, 2: 2, 3: 5},
		CheerPerBit:    0.01,
		RaidPerViewer:  0.2,
		CharityPerUnit: 0.1,
		Redemption:     0.5,
	}
}

func (w Weights) isZero() bool {
	return w.Follow == 0 && w.Subscription == 0 && w.CheerPerBit == 0 && w.RaidPerViewer == 0 &&
		w.CharityPerUnit == 0 && w.Redemption == 0 && len(w.SubTierFactor) == 0
}

// Contribution возвращает вклад события. Типы без веса дают 0.
func (w Weights) Contribution(ev model.PlatformEvent) float64 {
	switch p := ev.Payload.(type) {
	case model.Follow:
		return w.Follow
	case model.Subscription:
		factor, ok := w.SubTierFactor[p.Tier]
		if !ok {
			factor = 1
		}
		count := 1
		if p.GiftCount > 1 {
			count = p.GiftCount
		}
		return w.Subscription * factor * float64(count)
	case model.Cheer:
		return w.CheerPerBit * float64(p.Bits)
	case model.Raid:
		return w.RaidPerViewer * float64(p.ViewerCount)
	case model.CharityDonation:
		return w.CharityPerUnit * p.Amount
	case model.Redemption:
		return w.Redemption
	}
	return 0
}
