package rules

// DefaultRuleSet is the built-in fallback used when the configured rule set
// fails to load or validate. Conservative: cheap HARD heuristics only, no AI
// spend on a misconfigured installation.
func DefaultRuleSet(subreddit string) *RuleSet {
	return &RuleSet{
		Version:   "1.0",
		Subreddit: subreddit,
		UpdatedAt: nowRFC3339(),
		Rules: []*Rule{
			{
				ID:          "default-new-account-links",
				Name:        "New account posting links",
				Enabled:     true,
				Priority:    100,
				Type:        KindHard,
				ContentType: ContentAny,
				Conditions: &Condition{
					LogicalOperator: "AND",
					Rules: []*Condition{
						{Field: "profile.accountAgeInDays", Operator: "<", Value: float64(2)},
						{Field: "currentPost.domains", Operator: "exists"},
					},
				},
				Action:       "FLAG",
				ActionConfig: ActionConfig{Reason: "New account posting links"},
				CreatedAt:    nowRFC3339(),
				UpdatedAt:    nowRFC3339(),
			},
			{
				ID:          "default-negative-karma",
				Name:        "Deeply negative karma",
				Enabled:     true,
				Priority:    90,
				Type:        KindHard,
				ContentType: ContentAny,
				Conditions: &Condition{
					Field: "profile.totalKarma", Operator: "<", Value: float64(-50),
				},
				Action:       "FLAG",
				ActionConfig: ActionConfig{Reason: "Account with heavily negative karma"},
				CreatedAt:    nowRFC3339(),
				UpdatedAt:    nowRFC3339(),
			},
		},
	}
}
