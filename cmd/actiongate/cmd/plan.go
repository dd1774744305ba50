package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/clinicore/actiongate/internal/domain/action"
	"github.com/clinicore/actiongate/internal/domain/approval"
	"github.com/clinicore/actiongate/internal/domain/tool"
	"github.com/clinicore/actiongate/internal/service"
)

var (
	planFile       string
	planToken      string
	planApprover   string
	planIdemKey    string
	planPrintToken bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Simulate, execute or hash a plan file",
	Long: `Run a plan file (YAML or JSON) through the full governance pipeline
in this process, against the configured database and store.

A high or critical risk plan stops at PENDING_APPROVAL and prints its
approval token. Run it again with --token to execute it.

Examples:
  actiongate plan simulate --file plan.yaml
  actiongate plan execute --file plan.yaml
  actiongate plan execute --file plan.yaml --token <token> --approver dr-lee
  actiongate plan hash --file plan.yaml`,
}

var planSimulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Dry-run a plan; nothing is committed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlanCommand(cmd, tool.ModeSimulate)
	},
}

var planExecuteCmd = &cobra.Command{
	Use:   "execute",
	Short: "Execute a plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlanCommand(cmd, tool.ModeExecute)
	},
}

var planHashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Print the canonical hash of a plan's steps",
	RunE: func(cmd *cobra.Command, args []string) error {
		plan, err := readPlanFile(planFile)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), action.ComputePlanHash(plan.Steps))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{planSimulateCmd, planExecuteCmd, planHashCmd} {
		c.Flags().StringVarP(&planFile, "file", "f", "", "plan file (YAML or JSON)")
		_ = c.MarkFlagRequired("file")
		planCmd.AddCommand(c)
	}
	planExecuteCmd.Flags().StringVar(&planToken, "token", "", "approval token for a high or critical risk plan")
	planExecuteCmd.Flags().StringVar(&planApprover, "approver", "cli", "approver id recorded with --token")
	planExecuteCmd.Flags().StringVar(&planIdemKey, "idempotency-key", "", "idempotency key (default: derived from plan hash, tenant and user)")
	planExecuteCmd.Flags().BoolVar(&planPrintToken, "print-token", false, "print only the approval token when the plan is pending")
	rootCmd.AddCommand(planCmd)
}

// readPlanFile decodes a plan. JSON is a subset of YAML, so one decoder
// serves both.
func readPlanFile(path string) (*action.ActionPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	return decodePlan(data)
}

func decodePlan(data []byte) (*action.ActionPlan, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var plan action.ActionPlan
	if err := dec.Decode(&plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &plan, nil
}

func runPlanCommand(cmd *cobra.Command, mode tool.Mode) error {
	plan, err := readPlanFile(planFile)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, logger, io.Discard)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	out, err := runPlan(ctx, a.governance, plan, mode, planRunOptions{
		Token:          planToken,
		Approver:       planApprover,
		IdempotencyKey: planIdemKey,
	})
	if err != nil {
		return err
	}
	if planPrintToken && out.Submit.Status == service.SubmitPendingApproval && out.Submit.Approval != nil {
		fmt.Fprintln(cmd.OutOrStdout(), out.Submit.Approval.EncodedToken)
		return nil
	}
	return writeJSON(cmd.OutOrStdout(), out)
}

type planRunOptions struct {
	Token          string
	Approver       string
	IdempotencyKey string
}

// planRunOutput is the submission and, when a token was supplied for a
// pending plan, the approval that followed it.
type planRunOutput struct {
	Submit  *service.SubmitResult  `json:"submit"`
	Approve *service.ApproveResult `json:"approve,omitempty"`
}

// runPlan submits plan and, if it is pending and a token is supplied,
// approves it in the same process.
// A plan without a plan_id takes the action id from the token, since a
// fresh id could never match it.
func runPlan(ctx context.Context, gov *service.GovernanceService, plan *action.ActionPlan, mode tool.Mode, opts planRunOptions) (*planRunOutput, error) {
	if opts.Token != "" && plan.PlanID == "" {
		if tok, err := approval.DecodeToken(opts.Token); err == nil {
			cp := *plan
			cp.PlanID = tok.ActionID
			plan = &cp
		}
	}
	res, err := gov.Submit(ctx, plan, mode, service.SubmitOptions{IdempotencyKey: opts.IdempotencyKey})
	if err != nil {
		return nil, err
	}
	out := &planRunOutput{Submit: res}
	if res.Status != service.SubmitPendingApproval || opts.Token == "" {
		return out, nil
	}
	out.Approve, err = gov.Approve(ctx, res.ActionID, opts.Approver, opts.Token, nil)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
