package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gofhir/bundlevalidator"
	"github.com/gofhir/bundlevalidator/pkg/rules"
)

func newRulesCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect project rule sets",
	}
	cmd.AddCommand(newRulesCheckCommand(root), newRulesListCommand(root))
	return cmd
}

// loadRuleFiles loads files, or the configured rule files when none are
// given, and merges them.
func loadRuleFiles(cmd *cobra.Command, root *rootOptions, files []string) (*rules.RuleSet, error) {
	if len(files) == 0 {
		cfg, err := root.loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		files = cfg.Rules.Files
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no rule set files given")
	}
	sets := make([]*rules.RuleSet, 0, len(files))
	for _, f := range files {
		rs, err := rules.Load(f)
		if err != nil {
			return nil, err
		}
		sets = append(sets, rs)
	}
	return rules.Merge(sets...)
}

func newRulesCheckCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check [rules.yaml]...",
		Short: "Load rule sets and report problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := loadRuleFiles(cmd, root, args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			problems := rules.Check(rs)
			if rs.TargetSpecVersion != "" {
				v, err := bundlevalidator.ParseSpecVersion(rs.TargetSpecVersion)
				switch {
				case err != nil:
					problems = append(problems, err)
				case !v.Supported():
					problems = append(problems, fmt.Errorf("targetSpecVersion %s is not supported, want FHIR %s", v, bundlevalidator.FHIRVersion))
				}
			}
			for _, p := range problems {
				fmt.Fprintf(out, "problem: %v\n", p)
			}

			counts := make(map[rules.Type]int)
			for _, r := range rs.Rules {
				counts[r.Type]++
			}
			types := make([]string, 0, len(counts))
			for t := range counts {
				types = append(types, string(t))
			}
			sort.Strings(types)
			fmt.Fprintf(out, "%d rule(s)\n", len(rs.Rules))
			for _, t := range types {
				fmt.Fprintf(out, "  %-20s %d\n", t, counts[rules.Type(t)])
			}

			if len(problems) > 0 {
				return errInvalid
			}
			return nil
		},
	}
}

func newRulesListCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list [rules.yaml]...",
		Short: "List the rules of the merged rule sets",
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := loadRuleFiles(cmd, root, args)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tRESOURCE\tPATH\tSEVERITY\tCODE")
			for _, r := range rs.Rules {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Type, r.ResourceType, r.Path, r.Severity, r.ErrorCode)
			}
			return tw.Flush()
		},
	}
}
