// Package tier сопоставляет роли и бейджи пользователя упорядоченному уровню.
package tier

import "twitch-chat-analytics/model"

// Classify возвращает наивысший уровень среди применимых флагов.
// Порядок: стример > модератор > VIP > подписчик (T3 > T2 > T1) > bits > follower > viewer > anonymous.
func Classify(flags model.RoleFlags) model.Tier {
	candidates := make([]model.Tier, 0, 4)

	if flags.Broadcaster {
		candidates = append(candidates, model.TierStreamer)
	}
	if flags.Moderator {
		candidates = append(candidates, model.TierModerator)
	}
	if flags.VIP {
		candidates = append(candidates, model.TierVIP)
	}
	switch {
	case flags.SubscriberTier >= 3:
		candidates = append(candidates, model.TierSubscriber3)
	case flags.SubscriberTier == 2:
		candidates = append(candidates, model.TierSubscriber2)
	case flags.SubscriberTier == 1:
		candidates = append(candidates, model.TierSubscriber1)
	}
	if flags.Bits > 0 {
		candidates = append(candidates, model.TierBitsSupporter)
	}
	if flags.Follower || flags.Verified {
		candidates = append(candidates, model.TierFollower)
	}

	best := model.TierViewer
	if flags.Anonymous {
		best = model.TierAnonymous
	}
	for _, t := range candidates {
		if t > best {
			best = t
		}
	}
	return best
}

// SubscriberTierFromBadge переводит версию бейджа подписчика Twitch в номер тира.
// Версии вида 2xxx и 3xxx означают тир 2 и 3, остальные тир 1.
func SubscriberTierFromBadge(version int) int {
	switch {
	case version >= 3000:
		return 3
	case version >= 2000:
		return 2
	default:
		return 1
	}
}

// SubscriberTierFromPlan переводит план подписки EventSub/IRC ("1000", "2000", "3000", "Prime").
func SubscriberTierFromPlan(plan string) int {
	switch plan {
	case "3000":
		return 3
	case "2000":
		return 2
	default:
		return 1
	}
}
