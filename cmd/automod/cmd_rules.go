package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Work with moderation rule sets",
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate and normalize a rule-set JSON file",
	Long: `Validates a rule-set file the same way the engine does at load time.
Errors block loading; warnings do not, but usually indicate a rule that will
never match or an action that will fall back to FLAG.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read rule set: %w", err)
		}

		res := rules.Validate(string(data))
		if res.Err != nil {
			return fmt.Errorf("rule set invalid: %w", res.Err)
		}

		for _, w := range res.Warnings {
			fmt.Printf("warning: %s\n", w)
		}

		enabled := 0
		ai := 0
		for _, r := range res.RuleSet.Rules {
			if r.Enabled {
				enabled++
			}
			if r.Type == rules.KindAI {
				ai++
			}
		}
		fmt.Printf("OK: %d rules (%d enabled, %d AI), version %s, %d warnings\n",
			len(res.RuleSet.Rules), enabled, ai, res.RuleSet.Version, len(res.Warnings))
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesValidateCmd)
}
