// Package moderation считает moderation score сообщения и флаги причин.
package moderation

import (
	"strings"
	"time"
	"unicode"

	"twitch-chat-analytics/model"
	"twitch-chat-analytics/textutil"
)

// Input описывает сообщение для оценки.
type Input struct {
	UserID    string
	Text      string
	Tier      model.Tier
	Timestamp time.Time
}

// Result описывает итог оценки. Score всегда в [0,1].
type Result struct {
	Score       float64
	Flags       model.Flags
	BlockedWord float64
	Caps        float64
	Repetition  float64
	Evicted     bool
}

// Blocked сообщает, что score достиг порога блокировки.
func (r Result) Blocked() bool { return r.Flags.Has(model.FlagBlocked) }

// Scorer объединяет независимые сигналы в moderation score.
type Scorer struct {
	blocklist *Blocklist
}

func NewScorer(blocklist *Blocklist) *Scorer {
	if blocklist == nil {
		blocklist = NewBlocklist()
	}
	return &Scorer{blocklist: blocklist}
}

// Blocklist возвращает блоклист, с которым работает Scorer.
func (s *Scorer) Blocklist() *Blocklist { return s.blocklist }

// Score оценивает сообщение и кладёт его в историю пользователя.
// Пустой текст даёт 0 и в историю не попадает. При strictness none score всегда 0,
// но история продолжает пополняться.
func (s *Scorer) Score(in Input, rules *Ruleset, history *History) (res Result) {
	norm := textutil.Normalize(in.Text)
	if norm == "" {
		return Result{}
	}

	if history != nil && history.Cap() != rules.HistorySize {
		history.Resize(rules.HistorySize)
	}
	defer func() {
		if history != nil {
			res.Evicted = history.Push(Entry{Text: norm, At: in.Timestamp})
		}
	}()

	if rules.Strictness == StrictnessNone {
		return res
	}

	w := rules.Active()
	res.BlockedWord = blockedWordSignal(in.Text, rules)
	res.Caps = capsSignal(in.Text, rules)
	res.Repetition = repetitionSignal(norm, in.Timestamp, rules, history)

	if res.BlockedWord > 0 {
		res.Flags |= model.FlagBlockedWord
	}
	if res.Caps > 0 {
		res.Flags |= model.FlagExcessiveCaps
	}
	if res.Repetition > 0 {
		res.Flags |= model.FlagRepetition
	}

	combined := max(w.BlockedWord*res.BlockedWord, w.Caps*res.Caps, w.Repetition*res.Repetition)
	combined *= 1 - rules.TierTrust[in.Tier]

	if s.blocklist.Contains(in.UserID) {
		combined = 1
		res.Flags |= model.FlagBlocklisted
	}

	res.Score = clamp01(combined)
	if res.Score >= w.Threshold {
		res.Flags |= model.FlagBlocked
	}
	return res
}

func blockedWordSignal(text string, rules *Ruleset) float64 {
	if len(rules.words) == 0 && len(rules.phrases) == 0 {
		return 0
	}
	tokens := textutil.Tokenize(text)
	if len(tokens) == 0 {
		return 0
	}

	hits := 0
	for _, tok := range tokens {
		if rules.words[tok] {
			hits++
		}
	}
	if len(rules.phrases) > 0 {
		padded := " " + strings.Join(tokens, " ") + " "
		for _, p := range rules.phrases {
			hits += strings.Count(padded, " "+p+" ")
		}
	}
	if hits == 0 {
		return 0
	}
	return clamp01(float64(hits) / float64(len(tokens)) * rules.BlockedWordScale)
}

func capsSignal(text string, rules *Ruleset) float64 {
	letters, upper := 0, 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters < rules.CapsMinLetters || letters == 0 {
		return 0
	}

	ratio := float64(upper) / float64(letters)
	if ratio <= rules.CapsThreshold {
		return 0
	}
	if rules.CapsThreshold >= 1 {
		return 1
	}
	return clamp01((ratio - rules.CapsThreshold) / (1 - rules.CapsThreshold))
}

func repetitionSignal(norm string, at time.Time, rules *Ruleset, history *History) float64 {
	if history == nil || history.Len() == 0 {
		return 0
	}

	normLen := len([]rune(norm))
	matches := 0
	history.each(func(e Entry) {
		if rules.SpamWindow > 0 && !at.IsZero() && !e.At.IsZero() && at.Sub(e.At) > rules.SpamWindow {
			return
		}
		if e.Text == norm {
			matches++
			return
		}
		if !lengthsCompatible(normLen, len([]rune(e.Text)), rules.SimilarityThreshold) {
			return
		}
		if textutil.Similarity(e.Text, norm) >= rules.SimilarityThreshold {
			matches++
		}
	})
	return clamp01(float64(matches) / float64(rules.RepeatLimit))
}

// lengthsCompatible отсекает пары, у которых сходство заведомо ниже порога.
func lengthsCompatible(a, b int, threshold float64) bool {
	if a == 0 || b == 0 {
		return false
	}
	shorter, longer := a, b
	if shorter > longer {
		shorter, longer = longer, shorter
	}
	return float64(shorter)/float64(longer) >= threshold
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
