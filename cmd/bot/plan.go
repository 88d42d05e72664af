package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xaenox/creator-crew/internal/agents"
	"github.com/xaenox/creator-crew/internal/models"
	"github.com/xaenox/creator-crew/internal/session"
	"github.com/xaenox/creator-crew/pkg/config"
	"go.uber.org/zap"
)

func newPlanCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "plan <free|pro|business>",
		Short: "Set a user's subscription plan",
		Long: `Set a user's subscription plan.

The plan decides which model tiers the user may pick with /model.
Telegram users are stored under their numeric user id.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			cfg, err := config.LoadConfig(rootOpts.ConfigPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			kv, sessions, err := openSessions(cfg, agents.Default(), logger)
			if err != nil {
				return err
			}
			defer kv.Close()
			defer sessions.Close()

			return setPlan(cmd.Context(), sessions, userID, args[0], cmd.OutOrStdout(), logger)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id to update")
	cmd.MarkFlagRequired("user")
	return cmd
}

func setPlan(ctx context.Context, sessions *session.Store, userID, raw string, out io.Writer, logger *zap.Logger) error {
	plan := models.Plan(strings.ToLower(strings.TrimSpace(raw)))
	if err := sessions.SetPlan(ctx, userID, plan); err != nil {
		return err
	}
	logger.Info("Plan updated", zap.String("user_id", userID), zap.String("plan", string(plan)))
	hintColor.Fprintf(out, "%s is now on the %s plan.\n", userID, plan)
	return nil
}
