// Package settings is the strongly-typed view of per-installation
// configuration. The host delivers it as JSON; the core treats it as a
// read-only snapshot for the duration of a cascade.
package settings

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Layer1 configures the account-heuristics layer.
type Layer1 struct {
	Enabled        bool   `json:"enabled"`
	AccountAgeDays int    `json:"accountAgeDays" validate:"min=0"`
	KarmaThreshold int    `json:"karmaThreshold"`
	Action         string `json:"action" validate:"omitempty,oneof=APPROVE FLAG REMOVE COMMENT"`
	Message        string `json:"message"`
}

// Layer2 configures the external moderation classifier layer.
type Layer2 struct {
	Enabled    bool     `json:"enabled"`
	APIKey     string   `json:"apiKey"`
	Categories []string `json:"categories"`
	Threshold  float64  `json:"threshold" validate:"min=0,max=1"`
	Action     string   `json:"action" validate:"omitempty,oneof=APPROVE FLAG REMOVE COMMENT"`
	Message    string   `json:"message"`
}

// Layer3 configures the rule engine and its LLM providers.
type Layer3 struct {
	Enabled             bool    `json:"enabled"`
	RulesJSON           string  `json:"rulesJson"`
	PrimaryProvider     string  `json:"primaryProvider" validate:"omitempty,oneof=openai gemini"`
	FallbackProvider    string  `json:"fallbackProvider" validate:"omitempty,oneof=openai gemini"`
	OpenAIAPIKey        string  `json:"openaiApiKey"`
	GeminiAPIKey        string  `json:"geminiApiKey"`
	DailyBudgetUSD      float64 `json:"dailyBudgetUSD" validate:"min=0"`
	MonthlyBudgetUSD    float64 `json:"monthlyBudgetUSD" validate:"min=0"`
	BudgetAlertsEnabled bool    `json:"budgetAlertsEnabled"`
}

// Templates are the moderator-facing reply templates.
type Templates struct {
	RemoveTemplate  string `json:"removeTemplate"`
	CommentTemplate string `json:"commentTemplate"`
}

// Notifications configures modmail/PM delivery.
type Notifications struct {
	Recipient          string   `json:"recipient" validate:"omitempty,oneof=all specific"`
	Usernames          []string `json:"usernames"`
	DailyDigestEnabled bool     `json:"dailyDigestEnabled"`
	DailyDigestTime    string   `json:"dailyDigestTime"`
	RealtimeEnabled    bool     `json:"realtimeEnabled"`
}

// DryRun configures log-only mode.
type DryRun struct {
	Enabled    bool `json:"enabled"`
	LogDetails bool `json:"logDetails"`
}

// Settings is the full installation-scoped configuration snapshot.
type Settings struct {
	Subreddit            string        `json:"subreddit"`
	BotUsername          string        `json:"botUsername"`
	WhitelistedUsernames []string      `json:"whitelistedUsernames"`
	Layer1               Layer1        `json:"layer1"`
	Layer2               Layer2        `json:"layer2"`
	Layer3               Layer3        `json:"layer3"`
	Templates            Templates     `json:"templates"`
	Notifications        Notifications `json:"notifications"`
	CacheVersion         string        `json:"cacheVersion"`
	DryRun               DryRun        `json:"dryRun"`
}

// Default returns a conservative configuration: all layers disabled, $5/day
// budget, alerts on, cache version 1.
func Default() *Settings {
	return &Settings{
		Layer1: Layer1{
			AccountAgeDays: 7,
			KarmaThreshold: -10,
			Action:         "FLAG",
			Message:        "New account flagged for review",
		},
		Layer2: Layer2{
			Threshold: 0.85,
			Action:    "REMOVE",
			Message:   "Content removed by automated moderation",
		},
		Layer3: Layer3{
			PrimaryProvider:     "openai",
			FallbackProvider:    "gemini",
			DailyBudgetUSD:      5,
			MonthlyBudgetUSD:    100,
			BudgetAlertsEnabled: true,
		},
		Notifications: Notifications{Recipient: "all"},
		CacheVersion:  "1",
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse decodes and validates a settings JSON blob on top of defaults.
func Parse(data []byte) (*Settings, error) {
	s := Default()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks field-level constraints.
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// IsWhitelisted reports whether a username bypasses the cascade. The
// installation's own bot account is always whitelisted.
func (s *Settings) IsWhitelisted(username string) bool {
	if s.BotUsername != "" && username == s.BotUsername {
		return true
	}
	for _, u := range s.WhitelistedUsernames {
		if u == username {
			return true
		}
	}
	return false
}

// ProviderAPIKey returns the configured key for a provider name.
func (s *Settings) ProviderAPIKey(name string) string {
	switch name {
	case "openai":
		return s.Layer3.OpenAIAPIKey
	case "gemini":
		return s.Layer3.GeminiAPIKey
	}
	return ""
}
