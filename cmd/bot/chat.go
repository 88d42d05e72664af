package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/xaenox/creator-crew/internal/agents"
	"github.com/xaenox/creator-crew/internal/directive"
	"github.com/xaenox/creator-crew/internal/models"
	"github.com/xaenox/creator-crew/internal/orchestrator"
	"go.uber.org/zap"
)

var (
	userColor   = color.New(color.Bold)
	nameColor   = color.New(color.FgCyan, color.Bold)
	aiColor     = color.New(color.FgCyan)
	buttonColor = color.New(color.FgGreen)
	hintColor   = color.New(color.FgYellow)
	errorColor  = color.New(color.FgRed)
)

func newChatCmd() *cobra.Command {
	var opts struct {
		UserID  string
		AgentID string
	}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agent team in the terminal",
		Long: `Talk to the agent team in the terminal.

Lines starting with / are commands: /agent <id>, /clear, /quit.
Buttons offered by a reply are listed as [1], [2]...; type !1 to press one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, err := newApp(logger)
			if err != nil {
				return err
			}
			defer a.Close()

			r := &repl{app: a, userID: opts.UserID, out: cmd.OutOrStdout()}
			if opts.AgentID != "" {
				if err := r.switchTo(cmd.Context(), opts.AgentID); err != nil {
					return err
				}
			} else if err := r.switchTo(cmd.Context(), a.dispatcher.Active(opts.UserID)); err != nil {
				return err
			}
			return r.run(cmd.Context(), cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVar(&opts.UserID, "user", "local", "user id the conversation is stored under")
	cmd.Flags().StringVar(&opts.AgentID, "agent", "", "agent to start with (see the agents command)")
	return cmd
}

type repl struct {
	app     *app
	userID  string
	out     io.Writer
	buttons []directive.Affordance
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		userColor.Fprint(r.out, "-> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/clear":
			agentID := r.app.dispatcher.Active(r.userID)
			if err := r.app.orch.Clear(ctx, r.userID, agentID); err != nil {
				errorColor.Fprintln(r.out, err)
				continue
			}
			if err := r.switchTo(ctx, agentID); err != nil {
				errorColor.Fprintln(r.out, err)
			}
		case strings.HasPrefix(line, "/agent "):
			if err := r.switchTo(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/agent "))); err != nil {
				errorColor.Fprintln(r.out, err)
			}
		case strings.HasPrefix(line, "!"):
			r.press(ctx, strings.TrimPrefix(line, "!"))
		default:
			r.submit(ctx, line)
		}
	}
}

func (r *repl) switchTo(ctx context.Context, agentID string) error {
	res, err := r.app.dispatcher.Switch(ctx, r.userID, agentID)
	if err != nil {
		return err
	}
	for i := len(res.Messages) - 1; i >= 0; i-- {
		if res.Messages[i].Role == models.RoleModel {
			r.show(res.Agent, res.Messages[i])
			return nil
		}
	}
	hintColor.Fprintf(r.out, "You're now talking to %s.\n", res.Agent.Name)
	return nil
}

func (r *repl) submit(ctx context.Context, text string) {
	agentID := r.app.dispatcher.Active(r.userID)
	agent, ok := r.app.agents.Find(agentID)
	if !ok {
		errorColor.Fprintln(r.out, "no active agent")
		return
	}
	turn, err := r.app.orch.Submit(ctx, r.userID, agentID, text)
	if err != nil {
		r.app.logger.Debug("Turn failed", zap.Error(err))
		errorColor.Fprintln(r.out, err)
		return
	}
	if turn.Outcome != orchestrator.OutcomeCompleted {
		hintColor.Fprintf(r.out, "(turn ended: %s)\n", turn.Outcome)
	}
	r.show(agent, turn.Reply)
}

func (r *repl) show(agent agents.Agent, reply models.ChatMessage) {
	parsed := r.app.parser.Parse(reply.Content)
	nameColor.Fprintln(r.out, agent.Name)
	aiColor.Fprintln(r.out, parsed.Text)
	r.buttons = parsed.Affordances
	for i, a := range r.buttons {
		buttonColor.Fprintf(r.out, "[%d] %s\n", i+1, a.Label)
	}
}

func (r *repl) press(ctx context.Context, raw string) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > len(r.buttons) {
		errorColor.Fprintln(r.out, "no such button")
		return
	}
	a := r.buttons[n-1]
	r.buttons = nil

	switch a.Kind {
	case directive.KindAction:
		hintColor.Fprintf(r.out, "✅ Done! Your content was sent to %s.\n", a.Service.Name)
		r.app.activity.Record(ctx, r.userID, "Sent content to "+a.Service.Name, "action")
	case directive.KindHandoff:
		res, err := r.app.dispatcher.Handoff(ctx, r.userID, a.AgentID, a.Prompt)
		switch {
		case errors.Is(err, agents.ErrNotFound):
			errorColor.Fprintln(r.out, "That agent is no longer available.")
		case err != nil:
			errorColor.Fprintln(r.out, err)
		case res.Turn != nil:
			r.show(res.Agent, res.Turn.Reply)
		default:
			fmt.Fprintf(r.out, "You're now talking to %s.\n", res.Agent.Name)
		}
	}
}
