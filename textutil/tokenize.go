// Package textutil нормализует и токенизирует текст чата.
package textutil

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonTokenChars = regexp.MustCompile(`[^\pL\pN\s<3']+`)
	spaces        = regexp.MustCompile(`\s+`)
)

// Fold приводит текст к нижнему регистру и снимает диакритику.
func Fold(text string) string {
	// transform.Chain хранит состояние, поэтому собирается на каждый вызов
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(fold, strings.ToLower(text))
	if err != nil {
		return strings.ToLower(text)
	}
	return out
}

// Tokenize разбивает текст на слова после Fold. Сердечко "<3" сохраняется как токен.
func Tokenize(text string) []string {
	split := nonTokenChars.ReplaceAllString(Fold(text), " ")
	fields := strings.Fields(split)
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Normalize сворачивает пробелы и регистр; используется для поиска повторов.
func Normalize(text string) string {
	return strings.TrimSpace(spaces.ReplaceAllString(Fold(text), " "))
}

// Similarity возвращает нормализованное сходство Левенштейна в [0,1].
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 || lb == 0 {
		return 0
	}
	longest := la
	if lb > longest {
		longest = lb
	}

	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return 1 - float64(prev[lb])/float64(longest)
}
