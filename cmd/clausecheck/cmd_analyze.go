package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"clausecheck/internal/types"
)

var (
	analyzeTenant     string
	analyzeDocument   string
	analyzeContractor string
	analyzeProject    string
	analyzeState      string
	analyzeWait       bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run one analysis against an ingested document",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildStack()
		if err != nil {
			return err
		}
		defer s.store.Close()

		ctx := context.Background()
		if err := s.service.Bootstrap(ctx); err != nil {
			return err
		}

		id, err := s.service.StartAnalysis(ctx, analyzeTenant, analyzeDocument, types.ContractContext{
			ContractorName: analyzeContractor,
			ProjectName:    analyzeProject,
			State:          analyzeState,
		})
		if err != nil {
			return err
		}
		fmt.Println("analysis:", id)

		if !analyzeWait {
			return nil
		}

		deadline := time.Now().Add(s.cfg.AnalysisTimeout() + time.Minute)
		for time.Now().Before(deadline) {
			a, err := s.service.GetAnalysis(ctx, analyzeDocument, id)
			if err != nil {
				return err
			}
			if a != nil && a.Status.Terminal() {
				return printAnalysisResult(ctx, s, a)
			}
			time.Sleep(2 * time.Second)
		}
		return fmt.Errorf("analysis %s did not finish in time", id)
	},
}

// printAnalysisResult writes the terminal analysis, its findings, and
// the risk score as JSON on stdout.
func printAnalysisResult(ctx context.Context, s *stack, a *types.Analysis) error {
	findings, err := s.service.GetFindings(ctx, a.DocumentID, a.ID)
	if err != nil {
		return err
	}
	risk, err := s.service.RiskScore(ctx, a.DocumentID, a.ID)
	if err != nil {
		return err
	}

	logger.Info("analysis finished",
		zap.String("status", string(a.Status)),
		zap.Int("findings", len(findings)),
		zap.Int("risk", risk))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]interface{}{
		"analysis":   a,
		"findings":   findings,
		"risk_score": risk,
	})
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeTenant, "tenant", "", "tenant id (required)")
	analyzeCmd.Flags().StringVar(&analyzeDocument, "document", "", "document id (required)")
	analyzeCmd.Flags().StringVar(&analyzeContractor, "contractor", "", "contractor name hint")
	analyzeCmd.Flags().StringVar(&analyzeProject, "project", "", "project name hint")
	analyzeCmd.Flags().StringVar(&analyzeState, "state", "", "governing state hint")
	analyzeCmd.Flags().BoolVar(&analyzeWait, "wait", true, "wait for the result and print it")
	_ = analyzeCmd.MarkFlagRequired("tenant")
	_ = analyzeCmd.MarkFlagRequired("document")
}
