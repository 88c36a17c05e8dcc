// Package bot answers KRC-20 chat commands using cached Kasplex data.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/illmade-knight/go-krc20bot/pkg/commandbus"
	"github.com/illmade-knight/go-krc20bot/pkg/kasplex"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Inquiry returns the current payload for a key, refreshing it when it is
// older than ttl. gate.Orchestrator implements it.
type Inquiry[V any] interface {
	Get(ctx context.Context, key string, ttl time.Duration) (V, error)
}

// Config holds configuration for a Handler.
type Config struct {
	StatusTTL time.Duration
	HolderTTL time.Duration
	// Content maps static command names such as "links" and "donate" to
	// their reply text.
	Content map[string]string
}

// CommandHelp describes one supported command.
type CommandHelp struct {
	Name        string `json:"name"`
	Usage       string `json:"usage"`
	Description string `json:"description"`
}

var balanceAliases = map[string]bool{"balance": true, "tokenbalance": true, "holder": true}

// Handler implements commandbus.Handler.
type Handler struct {
	cfg     Config
	status  Inquiry[kasplex.TokenInfo]
	holder  Inquiry[kasplex.TokenList]
	metrics *metrics
	logger  zerolog.Logger
}

// NewHandler creates a Handler. reg may be nil to disable metrics.
func NewHandler(
	cfg Config,
	status Inquiry[kasplex.TokenInfo],
	holder Inquiry[kasplex.TokenList],
	reg prometheus.Registerer,
	logger zerolog.Logger,
) (*Handler, error) {
	if status == nil || holder == nil {
		return nil, errors.New("status and holder inquiries cannot be nil")
	}
	if cfg.StatusTTL <= 0 || cfg.HolderTTL <= 0 {
		return nil, errors.New("TTLs must be positive")
	}
	m, err := newMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register command metrics: %w", err)
	}
	return &Handler{
		cfg:     cfg,
		status:  status,
		holder:  holder,
		metrics: m,
		logger:  logger.With().Str("component", "CommandHandler").Logger(),
	}, nil
}

// Handle answers cmd. Commands sent by bots get no reply. The only error
// returned is the context's, so an interrupted command is redelivered.
func (h *Handler) Handle(ctx context.Context, cmd commandbus.Command) (*commandbus.Reply, error) {
	if cmd.AuthorIsBot {
		h.logger.Debug().Str("command_id", cmd.ID).Msg("Ignoring command from a bot.")
		return nil, nil
	}

	var reply *commandbus.Reply
	var err error
	label := cmd.Name
	switch {
	case cmd.Name == "status":
		reply, err = h.handleStatus(ctx, cmd)
	case balanceAliases[cmd.Name]:
		label = "balance"
		reply, err = h.handleBalance(ctx, cmd)
	case cmd.Name == "help":
		reply = &commandbus.Reply{Status: commandbus.StatusOK, Data: h.help()}
	default:
		if text, ok := h.cfg.Content[cmd.Name]; ok {
			reply = &commandbus.Reply{Status: commandbus.StatusOK, Message: text}
		} else {
			label = "unknown"
			reply = &commandbus.Reply{
				Status:  commandbus.StatusUnknownCommand,
				Message: fmt.Sprintf("Unknown command '%s'. Use help to list commands.", cmd.Name),
			}
		}
	}
	if err != nil {
		return nil, err
	}

	reply.Command = cmd.Name
	h.metrics.command(label, string(reply.Status))
	return reply, nil
}

func (h *Handler) handleStatus(ctx context.Context, cmd commandbus.Command) (*commandbus.Reply, error) {
	if len(cmd.Args) != 1 || strings.TrimSpace(cmd.Args[0]) == "" {
		return badRequest("status <ticker>"), nil
	}
	tick := strings.ToUpper(strings.TrimSpace(cmd.Args[0]))

	info, err := h.status.Get(ctx, tick, h.cfg.StatusTTL)
	if err != nil {
		return h.fetchFailure(ctx, tick, "token", err)
	}
	if len(info.Result) == 0 {
		return &commandbus.Reply{Key: tick, Status: commandbus.StatusInvalidKey, Message: "Make sure to provide a valid token."}, nil
	}
	return &commandbus.Reply{Key: tick, Status: commandbus.StatusOK, Data: newTokenStatus(info.Result[0])}, nil
}

func (h *Handler) handleBalance(ctx context.Context, cmd commandbus.Command) (*commandbus.Reply, error) {
	if len(cmd.Args) != 1 || strings.TrimSpace(cmd.Args[0]) == "" {
		return badRequest(cmd.Name + " <address>"), nil
	}
	address := strings.TrimSpace(cmd.Args[0])

	list, err := h.holder.Get(ctx, address, h.cfg.HolderTTL)
	if err != nil {
		return h.fetchFailure(ctx, address, "address", err)
	}
	return &commandbus.Reply{Key: address, Status: commandbus.StatusOK, Data: newHolderBalances(address, list)}, nil
}

func (h *Handler) fetchFailure(ctx context.Context, key, kind string, err error) (*commandbus.Reply, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if kasplex.IsNotFound(err) {
		return &commandbus.Reply{Key: key, Status: commandbus.StatusInvalidKey, Message: fmt.Sprintf("Make sure to provide a valid %s.", kind)}, nil
	}
	h.logger.Warn().Err(err).Str("key", key).Msg("Kasplex data unavailable.")
	return &commandbus.Reply{Key: key, Status: commandbus.StatusUnavailable, Message: "Kasplex data is unavailable right now, try again later."}, nil
}

func (h *Handler) help() []CommandHelp {
	cmds := []CommandHelp{
		{Name: "status", Usage: "status <ticker>", Description: "Mint progress and statistics of a KRC-20 token."},
		{Name: "balance", Usage: "balance <address>", Description: "KRC-20 balances held by a Kaspa address. Aliases: tokenbalance, holder."},
		{Name: "help", Usage: "help", Description: "This list."},
	}
	extra := make([]string, 0, len(h.cfg.Content))
	for name := range h.cfg.Content {
		if name == "status" || name == "help" || balanceAliases[name] {
			continue
		}
		extra = append(extra, name)
	}
	sort.Strings(extra)
	for _, name := range extra {
		cmds = append(cmds, CommandHelp{Name: name, Usage: name})
	}
	return cmds
}

func badRequest(usage string) *commandbus.Reply {
	return &commandbus.Reply{
		Status:  commandbus.StatusBadRequest,
		Message: fmt.Sprintf("Wrong number of parameters. Use: %s", usage),
	}
}

var _ commandbus.Handler = (*Handler)(nil)
