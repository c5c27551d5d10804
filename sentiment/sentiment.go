// Package sentiment определяет тональность сообщений чата по лексикону.
//
// Classify не имеет общего состояния и безопасна для конкурентного вызова.
package sentiment

import (
	"twitch-chat-analytics/model"
	"twitch-chat-analytics/textutil"
)

// polarityThreshold задаёт минимальный перевес одной из сторон, иначе neutral.
const polarityThreshold = 0.2

var positive = set(
	"love", "loved", "awesome", "great", "amazing", "nice", "good", "best", "cool",
	"wow", "gg", "ggs", "wp", "pog", "pogs", "poggers", "pogchamp", "hype", "lol",
	"lmao", "haha", "thanks", "thank", "ty", "beautiful", "fun", "epic", "<3",
	"clutch", "insane", "lets", "yay", "congrats", "welcome", "happy", "goat",
)

var negative = set(
	"hate", "hated", "bad", "terrible", "awful", "worst", "sucks", "suck", "boring",
	"trash", "garbage", "lame", "cringe", "ugly", "stupid", "dumb", "annoying",
	"angry", "sad", "rip", "ff", "toxic", "horrible", "broken", "lag", "laggy",
	"residentsleeper", "notlikethis", "biblethump", "wtf",
)

var negators = set("not", "no", "never", "dont", "don't", "isnt", "isn't", "aint", "ain't")

// Classify возвращает positive, negative или neutral. Пустой текст и ничья дают neutral.
func Classify(text string) model.Sentiment {
	tokens := textutil.Tokenize(text)
	if len(tokens) == 0 {
		return model.SentimentNeutral
	}

	var pos, neg float64
	for i, tok := range tokens {
		p, n := positive[tok], negative[tok]
		if !p && !n {
			continue
		}
		if i > 0 && negators[tokens[i-1]] {
			p, n = n, p
		}
		if p {
			pos++
		}
		if n {
			neg++
		}
	}

	if pos+neg == 0 {
		return model.SentimentNeutral
	}

	polarity := (pos - neg) / (pos + neg)
	switch {
	case polarity > polarityThreshold:
		return model.SentimentPositive
	case polarity < -polarityThreshold:
		return model.SentimentNegative
	default:
		return model.SentimentNeutral
	}
}

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
