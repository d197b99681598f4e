package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/spec-kit/ticket-agent/internal/config"
	"github.com/spec-kit/ticket-agent/internal/domain"
	"github.com/spec-kit/ticket-agent/internal/gateway"
	"github.com/spec-kit/ticket-agent/internal/pipeline"
	"github.com/spec-kit/ticket-agent/internal/repository"
	"github.com/spec-kit/ticket-agent/internal/service"
	"github.com/spec-kit/ticket-agent/internal/stages"
)

type runOptions struct {
	ticketID      string
	customerName  string
	email         string
	query         string
	priority      string
	reply         string
	decisionScore int
	jsonOut       bool
	verbose       bool
}

func newRunCommand() *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one ticket through every stage and print the final payload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("decision-score") {
				cfg.Gateway.MockDecisionScore = opts.decisionScore
			}
			return runTicket(cmd, cfg, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.ticketID, "ticket-id", "T12345", "Ticket identifier")
	flags.StringVar(&opts.customerName, "customer", "Alice", "Customer name")
	flags.StringVar(&opts.email, "email", "alice@example.com", "Customer email")
	flags.StringVar(&opts.query, "query", "My order hasn't arrived yet", "Customer query")
	flags.StringVar(&opts.priority, "priority", "high", "Ticket priority (low, medium, high)")
	flags.StringVar(&opts.reply, "reply", "", "Customer reply used by the WAIT stage")
	flags.IntVar(&opts.decisionScore, "decision-score", 0, "Override the mock solution evaluation score")
	flags.BoolVar(&opts.jsonOut, "json", false, "Output as JSON")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log stage progress to stderr")
	return cmd
}

func runTicket(cmd *cobra.Command, cfg *config.Config, opts runOptions) error {
	logger := zap.NewNop()
	if opts.verbose {
		logger = zap.New(zapcore.NewCore(
			zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
			zapcore.AddSync(cmd.ErrOrStderr()),
			zapcore.DebugLevel,
		))
	}

	gw, err := gateway.NewFromConfig(cfg.Gateway, logger, nil)
	if err != nil {
		return err
	}
	graph, err := pipeline.DefaultGraph(stages.New(stages.Dependencies{Gateway: gw, Logger: logger}))
	if err != nil {
		return err
	}
	svc, err := service.NewPipelineService(service.PipelineDependencies{
		Graph:       graph,
		RunRepo:     repository.NewMemoryRunRepository(),
		HistoryRepo: repository.NewMemoryStageHistoryRepository(),
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	run, runErr := svc.StartRun(ctx, service.StartRunInput{
		TicketID:      opts.ticketID,
		CustomerName:  opts.customerName,
		Email:         opts.email,
		Query:         opts.query,
		Priority:      opts.priority,
		CustomerReply: opts.reply,
	})
	if run == nil {
		return runErr
	}
	history, err := svc.ListHistory(ctx, run.ID)
	if err != nil {
		return err
	}

	if opts.jsonOut {
		if err := writeJSON(cmd, run.State); err != nil {
			return err
		}
		return runErr
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, payloadRows(run), nil))
	fmt.Fprintln(out, renderTable(
		[]string{"Stage", "Outcome", "Fields written", "Duration"},
		historyRows(history),
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
	))
	return runErr
}

func payloadRows(run *domain.PipelineRun) [][]string {
	state := run.State
	rows := [][]string{
		{"run_id", run.ID},
		{"status", string(run.Status)},
		{"ticket_id", state.TicketID},
		{"customer_name", state.CustomerName},
		{"email", state.Email},
	}
	if score, ok := state.PriorityScore(); ok {
		rows = append(rows, []string{"priority_score", strconv.Itoa(score)})
	}
	if state.UserAnswer != nil {
		rows = append(rows, []string{"user_answer", *state.UserAnswer})
	}
	if len(state.KBResults) > 0 {
		rows = append(rows, []string{"kb_results", strings.Join(state.KBResults, "; ")})
	}
	if state.Decision != nil {
		rows = append(rows, []string{"decision", fmt.Sprintf("%s (score %d)", state.Decision.Outcome(), state.Decision.Score)})
	}
	if state.FinalStatus != nil {
		rows = append(rows, []string{"final_status", *state.FinalStatus})
	}
	if state.Response != nil {
		rows = append(rows, []string{"response", *state.Response})
	}
	if state.NotificationsSent != nil {
		rows = append(rows, []string{"notifications_sent", strconv.FormatBool(*state.NotificationsSent)})
	}
	if run.FailedStage != nil {
		rows = append(rows, []string{"failed_stage", string(*run.FailedStage)}, []string{"error_code", run.ErrorCode})
	}
	return rows
}

func historyRows(history []domain.StageHistory) [][]string {
	rows := make([][]string, 0, len(history))
	for _, h := range history {
		rows = append(rows, []string{
			string(h.Stage),
			string(h.Outcome),
			strings.Join(h.FieldsWritten, ", "),
			h.Duration.String(),
		})
	}
	return rows
}
