package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"twitch-chat-analytics/events"
	"twitch-chat-analytics/model"
	"twitch-chat-analytics/moderation"
)

// ErrInvalidRules возвращается для файла правил, который не проходит проверку.
var ErrInvalidRules = errors.New("invalid rules file")

// Rules содержит всё, что задаётся файлом правил и может меняться без перезапуска.
type Rules struct {
	Moderation   *moderation.Ruleset
	Weights      events.Weights
	BlockedUsers []moderation.BlockedUser
}

type rulesFile struct {
	Strictness         string               `yaml:"strictness"`
	ChatMode           string               `yaml:"chat_mode"`
	Keywords           []string             `yaml:"keywords"`
	BitsThreshold      int                  `yaml:"bits_threshold"`
	BlockedWords       []string             `yaml:"blocked_words"`
	BlockedWordScale   float64              `yaml:"blocked_word_scale"`
	BlockedUsers       []blockedUserFile    `yaml:"blocked_users"`
	Caps               capsFile             `yaml:"caps"`
	Spam               spamFile             `yaml:"spam"`
	Levels             map[string]levelFile `yaml:"levels"`
	TierTrust          map[string]float64   `yaml:"tier_trust"`
	ContributorWeights events.Weights       `yaml:"contributor_weights"`
}

type blockedUserFile struct {
	UserID string `yaml:"user_id"`
	Name   string `yaml:"name"`
	Reason string `yaml:"reason"`
}

type capsFile struct {
	Threshold  float64 `yaml:"threshold"`
	MinLetters int     `yaml:"min_letters"`
}

type spamFile struct {
	HistorySize int           `yaml:"history_size"`
	Window      time.Duration `yaml:"window"`
	Similarity  float64       `yaml:"similarity"`
	RepeatLimit int           `yaml:"repeat_limit"`
}

type levelFile struct {
	BlockedWord float64 `yaml:"blocked_word"`
	Caps        float64 `yaml:"caps"`
	Repetition  float64 `yaml:"repetition"`
	Threshold   float64 `yaml:"threshold"`
}

// DefaultRules возвращает правила, действующие без файла.
func DefaultRules() Rules {
	r, err := moderation.DefaultRuleset().Compile()
	if err != nil {
		panic(fmt.Sprintf("config: default ruleset: %v", err))
	}
	return Rules{Moderation: r, Weights: events.DefaultWeights()}
}

// LoadRules читает YAML-файл правил поверх DefaultRules. Пустой путь даёт
// правила по умолчанию.
func LoadRules(path string) (Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("config: read rules %s: %w", path, err)
	}
	return ParseRules(data)
}

// ParseRules разбирает YAML правил. Отсутствующие ключи берутся из значений
// по умолчанию, неизвестные ключи и значения перечислений вне списка отклоняются.
func ParseRules(data []byte) (Rules, error) {
	doc := defaultRulesFile()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Rules{}, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	return doc.rules()
}

func defaultRulesFile() rulesFile {
	def := moderation.DefaultRuleset()
	doc := rulesFile{
		Strictness:       def.Strictness.String(),
		ChatMode:         def.ChatMode.String(),
		Keywords:         def.Keywords,
		BitsThreshold:    def.BitsThreshold,
		BlockedWords:     def.BlockedWords,
		BlockedWordScale: def.BlockedWordScale,
		Caps:             capsFile{Threshold: def.CapsThreshold, MinLetters: def.CapsMinLetters},
		Spam: spamFile{
			HistorySize: def.HistorySize,
			Window:      def.SpamWindow,
			Similarity:  def.SimilarityThreshold,
			RepeatLimit: def.RepeatLimit,
		},
		Levels:             make(map[string]levelFile, len(def.Levels)),
		TierTrust:          make(map[string]float64, len(def.TierTrust)),
		ContributorWeights: events.DefaultWeights(),
	}
	for s, w := range def.Levels {
		doc.Levels[s.String()] = levelFile(w)
	}
	for t, v := range def.TierTrust {
		doc.TierTrust[t.String()] = v
	}
	return doc
}

func (f rulesFile) rules() (Rules, error) {
	strictness, err := moderation.ParseStrictness(f.Strictness)
	if err != nil {
		return Rules{}, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	mode, err := moderation.ParseChatMode(f.ChatMode)
	if err != nil {
		return Rules{}, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}

	rs := moderation.Ruleset{
		Strictness:          strictness,
		Levels:              make(map[moderation.Strictness]moderation.Weights, len(f.Levels)),
		BlockedWords:        f.BlockedWords,
		BlockedWordScale:    f.BlockedWordScale,
		CapsThreshold:       f.Caps.Threshold,
		CapsMinLetters:      f.Caps.MinLetters,
		HistorySize:         f.Spam.HistorySize,
		SpamWindow:          f.Spam.Window,
		SimilarityThreshold: f.Spam.Similarity,
		RepeatLimit:         f.Spam.RepeatLimit,
		TierTrust:           make(map[model.Tier]float64, len(f.TierTrust)),
		ChatMode:            mode,
		Keywords:            f.Keywords,
		BitsThreshold:       f.BitsThreshold,
	}
	for name, w := range f.Levels {
		s, err := moderation.ParseStrictness(name)
		if err != nil {
			return Rules{}, fmt.Errorf("%w: levels: %v", ErrInvalidRules, err)
		}
		rs.Levels[s] = moderation.Weights(w)
	}
	for name, v := range f.TierTrust {
		t, err := model.ParseTier(name)
		if err != nil {
			return Rules{}, fmt.Errorf("%w: tier_trust: %v", ErrInvalidRules, err)
		}
		rs.TierTrust[t] = v
	}

	compiled, err := rs.Compile()
	if err != nil {
		return Rules{}, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}

	w := f.ContributorWeights
	for tier, factor := range w.SubTierFactor {
		if tier < 1 || tier > 3 || factor < 0 {
			return Rules{}, fmt.Errorf("%w: contributor_weights: sub_tier_factor %d=%v", ErrInvalidRules, tier, factor)
		}
	}
	if w.Follow < 0 || w.Subscription < 0 || w.CheerPerBit < 0 || w.RaidPerViewer < 0 ||
		w.CharityPerUnit < 0 || w.Redemption < 0 {
		return Rules{}, fmt.Errorf("%w: contributor_weights must not be negative", ErrInvalidRules)
	}

	out := Rules{Moderation: compiled, Weights: w}
	for _, u := range f.BlockedUsers {
		if u.UserID == "" {
			return Rules{}, fmt.Errorf("%w: blocked_users: user_id is required", ErrInvalidRules)
		}
		out.BlockedUsers = append(out.BlockedUsers, moderation.BlockedUser{
			UserID: u.UserID,
			Name:   u.Name,
			Reason: u.Reason,
		})
	}
	return out, nil
}
