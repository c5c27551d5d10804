package moderation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"twitch-chat-analytics/model"
	"twitch-chat-analytics/textutil"
)

// ErrInvalidRuleset возвращается Compile для некорректных правил.
var ErrInvalidRuleset = errors.New("invalid moderation ruleset")

// Strictness задаёт уровень строгости модерации.
type Strictness int

const (
	StrictnessNone Strictness = iota
	StrictnessRelaxed
	StrictnessModerate
	StrictnessStrict
)

var strictnessNames = map[Strictness]string{
	StrictnessNone:     "none",
	StrictnessRelaxed:  "relaxed",
	StrictnessModerate: "moderate",
	StrictnessStrict:   "strict",
}

func (s Strictness) String() string { return strictnessNames[s] }

// ParseStrictness принимает strict|moderate|relaxed|none.
func ParseStrictness(v string) (Strictness, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for s, name := range strictnessNames {
		if name == v {
			return s, nil
		}
	}
	return StrictnessNone, fmt.Errorf("%w: strictness %q, expected strict|moderate|relaxed|none", ErrInvalidRuleset, v)
}

func (s Strictness) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Strictness) UnmarshalText(b []byte) error {
	parsed, err := ParseStrictness(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ChatMode определяет, на какие сообщения бот может отвечать.
type ChatMode int

const (
	ChatModeAll ChatMode = iota
	ChatModeKeyword
	ChatModeHighlight
	ChatModeBits
	ChatModeDisable
)

var chatModeNames = map[ChatMode]string{
	ChatModeAll:       "all",
	ChatModeKeyword:   "keyword",
	ChatModeHighlight: "highlight",
	ChatModeBits:      "bits",
	ChatModeDisable:   "disable",
}

func (m ChatMode) String() string { return chatModeNames[m] }

// ParseChatMode принимает all|keyword|highlight|bits|disable.
func ParseChatMode(v string) (ChatMode, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for m, name := range chatModeNames {
		if name == v {
			return m, nil
		}
	}
	return ChatModeDisable, fmt.Errorf("%w: chat mode %q, expected all|keyword|highlight|bits|disable", ErrInvalidRuleset, v)
}

func (m ChatMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *ChatMode) UnmarshalText(b []byte) error {
	parsed, err := ParseChatMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Weights хранит веса сигналов и порог блокировки для одного уровня строгости.
type Weights struct {
	BlockedWord float64 `json:"blocked_word"`
	Caps        float64 `json:"caps"`
	Repetition  float64 `json:"repetition"`
	Threshold   float64 `json:"threshold"`
}

// Ruleset — активный набор правил модерации. После Compile не изменяется;
// изменения делаются через копию и Store.Swap.
type Ruleset struct {
	Strictness          Strictness             `json:"strictness"`
	Levels              map[Strictness]Weights `json:"levels"`
	BlockedWords        []string               `json:"blocked_words"`
	BlockedWordScale    float64                `json:"blocked_word_scale"`
	CapsThreshold       float64                `json:"caps_threshold"`
	CapsMinLetters      int                    `json:"caps_min_letters"`
	HistorySize         int                    `json:"history_size"`
	SpamWindow          time.Duration          `json:"spam_window"`
	SimilarityThreshold float64                `json:"similarity_threshold"`
	RepeatLimit         int                    `json:"repeat_limit"`
	TierTrust           map[model.Tier]float64 `json:"tier_trust"`
	ChatMode            ChatMode               `json:"chat_mode"`
	Keywords            []string               `json:"keywords"`
	BitsThreshold       int                    `json:"bits_threshold"`

	words    map[string]bool
	phrases  []string
	keywords []string
}

// DefaultRuleset возвращает правила по умолчанию (strictness moderate).
func DefaultRuleset() Ruleset {
	return Ruleset{
		Strictness: StrictnessModerate,
		Levels: map[Strictness]Weights{
			StrictnessStrict:   {BlockedWord: 1.0, Caps: 0.7, Repetition: 1.0, Threshold: 0.6},
			StrictnessModerate: {BlockedWord: 0.9, Caps: 0.4, Repetition: 0.7, Threshold: 0.7},
			StrictnessRelaxed:  {BlockedWord: 0.7, Caps: 0.2, Repetition: 0.5, Threshold: 0.8},
		},
		BlockedWordScale:    5,
		CapsThreshold:       0.7,
		CapsMinLetters:      5,
		HistorySize:         5,
		SpamWindow:          30 * time.Second,
		SimilarityThreshold: 0.9,
		RepeatLimit:         2,
		TierTrust: map[model.Tier]float64{
			model.TierStreamer:      1.0,
			model.TierModerator:     1.0,
			model.TierVIP:           0.5,
			model.TierSubscriber3:   0.4,
			model.TierSubscriber2:   0.3,
			model.TierSubscriber1:   0.2,
			model.TierBitsSupporter: 0.1,
			model.TierFollower:      0.05,
			model.TierViewer:        0,
			model.TierAnonymous:     0,
		},
		ChatMode: ChatModeHighlight,
	}
}

// Compile проверяет правила и строит индексы для матчинга.
func (r Ruleset) Compile() (*Ruleset, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}

	out := r
	out.Levels = make(map[Strictness]Weights, len(r.Levels))
	for k, v := range r.Levels {
		out.Levels[k] = v
	}
	out.TierTrust = make(map[model.Tier]float64, len(r.TierTrust))
	for k, v := range r.TierTrust {
		out.TierTrust[k] = v
	}

	out.words = make(map[string]bool)
	out.phrases = nil
	out.BlockedWords = nil
	seen := make(map[string]bool)
	for _, w := range r.BlockedWords {
		tokens := textutil.Tokenize(w)
		if len(tokens) == 0 {
			continue
		}
		joined := strings.Join(tokens, " ")
		if seen[joined] {
			continue
		}
		seen[joined] = true
		out.BlockedWords = append(out.BlockedWords, joined)
		if len(tokens) == 1 {
			out.words[joined] = true
		} else {
			out.phrases = append(out.phrases, joined)
		}
	}
	sort.Strings(out.BlockedWords)

	out.keywords = nil
	out.Keywords = append([]string(nil), r.Keywords...)
	for _, k := range r.Keywords {
		if n := textutil.Normalize(k); n != "" {
			out.keywords = append(out.keywords, n)
		}
	}
	return &out, nil
}

func (r Ruleset) validate() error {
	if _, ok := strictnessNames[r.Strictness]; !ok {
		return fmt.Errorf("%w: strictness %d", ErrInvalidRuleset, r.Strictness)
	}
	if _, ok := chatModeNames[r.ChatMode]; !ok {
		return fmt.Errorf("%w: chat mode %d", ErrInvalidRuleset, r.ChatMode)
	}
	for _, s := range []Strictness{StrictnessRelaxed, StrictnessModerate, StrictnessStrict} {
		w, ok := r.Levels[s]
		if !ok {
			return fmt.Errorf("%w: weights for %s are missing", ErrInvalidRuleset, s)
		}
		for name, v := range map[string]float64{"blocked_word": w.BlockedWord, "caps": w.Caps, "repetition": w.Repetition} {
			if v < 0 || v > 1 {
				return fmt.Errorf("%w: %s weight %s must be in [0,1]", ErrInvalidRuleset, s, name)
			}
		}
		if w.Threshold <= 0 || w.Threshold > 1 {
			return fmt.Errorf("%w: %s threshold must be in (0,1]", ErrInvalidRuleset, s)
		}
	}
	if r.CapsThreshold <= 0 || r.CapsThreshold > 1 {
		return fmt.Errorf("%w: caps_threshold must be in (0,1]", ErrInvalidRuleset)
	}
	if r.BlockedWordScale <= 0 {
		return fmt.Errorf("%w: blocked_word_scale must be positive", ErrInvalidRuleset)
	}
	if r.HistorySize <= 0 {
		return fmt.Errorf("%w: history_size must be positive", ErrInvalidRuleset)
	}
	if r.RepeatLimit <= 0 {
		return fmt.Errorf("%w: repeat_limit must be positive", ErrInvalidRuleset)
	}
	if r.SpamWindow < 0 {
		return fmt.Errorf("%w: spam_window must not be negative", ErrInvalidRuleset)
	}
	if r.SimilarityThreshold <= 0 || r.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity_threshold must be in (0,1]", ErrInvalidRuleset)
	}
	if r.BitsThreshold < 0 {
		return fmt.Errorf("%w: bits_threshold must not be negative", ErrInvalidRuleset)
	}
	for t, v := range r.TierTrust {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: trust for %s must be in [0,1]", ErrInvalidRuleset, t)
		}
	}
	return nil
}

// Active возвращает веса текущего уровня строгости.
func (r *Ruleset) Active() Weights {
	return r.Levels[r.Strictness]
}

// WithStrictness возвращает копию правил с другим уровнем строгости.
func (r *Ruleset) WithStrictness(s Strictness) (*Ruleset, error) {
	if _, ok := strictnessNames[s]; !ok {
		return nil, fmt.Errorf("%w: strictness %d", ErrInvalidRuleset, s)
	}
	out := *r
	out.Strictness = s
	return &out, nil
}

// ReplyInput содержит то, что нужно фильтру режима чата.
type ReplyInput struct {
	Text        string
	Highlighted bool
	Bits        int
	Blocked     bool
}

// ReplyEligible решает, может ли бот ответить на сообщение в текущем режиме чата.
// Режимы вложены: all ⊃ keyword ⊃ highlight ⊃ bits; disable отключает ответы.
func (r *Ruleset) ReplyEligible(in ReplyInput) bool {
	if in.Blocked || r.ChatMode == ChatModeDisable {
		return false
	}

	bitsOK := in.Bits > 0 && in.Bits >= r.BitsThreshold
	switch r.ChatMode {
	case ChatModeAll:
		return true
	case ChatModeKeyword:
		return bitsOK || in.Highlighted || r.hasKeyword(in.Text)
	case ChatModeHighlight:
		return bitsOK || in.Highlighted
	case ChatModeBits:
		return bitsOK
	}
	return false
}

func (r *Ruleset) hasKeyword(text string) bool {
	norm := textutil.Normalize(text)
	for _, k := range r.keywords {
		if strings.Contains(norm, k) {
			return true
		}
	}
	return false
}

// Store хранит активный Ruleset и позволяет атомарно его заменять.
type Store struct {
	current atomic.Pointer[Ruleset]
}

// NewStore создаёт Store с уже скомпилированными правилами.
func NewStore(r *Ruleset) *Store {
	s := &Store{}
	s.current.Store(r)
	return s
}

// Load возвращает активные правила; результат нельзя изменять.
func (s *Store) Load() *Ruleset { return s.current.Load() }

// Swap заменяет правила целиком, сохраняя текущий уровень строгости, если keepStrictness.
func (s *Store) Swap(r *Ruleset, keepStrictness bool) {
	for {
		old := s.current.Load()
		next := r
		if keepStrictness && old != nil && old.Strictness != r.Strictness {
			copied := *r
			copied.Strictness = old.Strictness
			next = &copied
		}
		if s.current.CompareAndSwap(old, next) {
			return
		}
	}
}

// SetStrictness меняет уровень строгости у активных правил.
func (s *Store) SetStrictness(level Strictness) error {
	for {
		old := s.current.Load()
		next, err := old.WithStrictness(level)
		if err != nil {
			return err
		}
		if s.current.CompareAndSwap(old, next) {
			return nil
		}
	}
}
