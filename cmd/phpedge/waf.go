package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/TylerBrock/colorjson"
	"github.com/bytedance/sonic"
	"github.com/fatih/color"
	"github.com/fenwicklabs/phpedge/src/config"
	"github.com/fenwicklabs/phpedge/src/metrics"
	"github.com/fenwicklabs/phpedge/src/waf"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

// wafRequestFile is the literal-request shape `phpedge waf test` reads,
// grounded on original_source/src/cli/waf.rs's dry-run request fixture.
type wafRequestFile struct {
	Method      string            `json:"method" yaml:"method"`
	URI         string            `json:"uri" yaml:"uri"`
	QueryString string            `json:"query_string" yaml:"queryString"`
	Headers     map[string]string `json:"headers" yaml:"headers"`
	Body        string            `json:"body" yaml:"body"`
	UserAgent   string            `json:"user_agent" yaml:"userAgent"`
}

func newWafCmd() *cobra.Command {
	root := &cobra.Command{Use: "waf", Short: "WAF rule tooling"}
	root.AddCommand(newWafTestCmd())
	return root
}

func newWafTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <rule-file> <request-file>",
		Short: "Dry-run a WAF ruleset against a literal request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWafTest(cmd, args[0], args[1])
		},
	}
}

func runWafTest(cmd *cobra.Command, ruleFile, requestFile string) error {
	ruleBytes, err := os.ReadFile(ruleFile) // #nosec G304 - operator-supplied CLI path
	if err != nil {
		return fmt.Errorf("reading rule file: %w", err)
	}
	var wafCfg config.WAFConfig
	if err := yaml.Unmarshal(ruleBytes, &wafCfg); err != nil {
		return fmt.Errorf("parsing rule file: %w", err)
	}

	engine, err := buildWAF(wafCfg, metrics.New("phpedge_waf_test"))
	if err != nil {
		return fmt.Errorf("compiling rules: %w", err)
	}

	reqBytes, err := os.ReadFile(requestFile) // #nosec G304 - operator-supplied CLI path
	if err != nil {
		return fmt.Errorf("reading request file: %w", err)
	}
	var reqFile wafRequestFile
	if err := sonic.Unmarshal(reqBytes, &reqFile); err != nil {
		if err := yaml.Unmarshal(reqBytes, &reqFile); err != nil {
			return fmt.Errorf("parsing request file (tried JSON and YAML): %w", err)
		}
	}

	verdict, err := engine.Evaluate(waf.RequestFields{
		Method:      reqFile.Method,
		URI:         reqFile.URI,
		QueryString: reqFile.QueryString,
		Headers:     reqFile.Headers,
		Body:        []byte(reqFile.Body),
		UserAgent:   reqFile.UserAgent,
	})
	if err != nil {
		return fmt.Errorf("evaluating waf rules: %w", err)
	}

	printWafVerdict(cmd, verdict)
	return nil
}

func printWafVerdict(cmd *cobra.Command, v waf.Verdict) {
	out := map[string]any{
		"allowed":     v.Allowed,
		"would_block": v.WouldBlock,
	}
	if v.Matched != nil {
		out["matched_rule"] = v.Matched.ID
		out["description"] = v.Matched.Description
	}

	raw, _ := json.Marshal(out)
	var parsed map[string]any
	_ = json.Unmarshal(raw, &parsed)

	f := colorjson.NewFormatter()
	f.Indent = 2
	colored, err := f.Marshal(parsed)
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), string(raw))
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(colored))

	if v.Allowed {
		color.New(color.FgGreen).Fprintln(cmd.OutOrStdout(), "ALLOWED")
	} else {
		color.New(color.FgRed).Fprintln(cmd.OutOrStdout(), "BLOCKED")
	}
}
