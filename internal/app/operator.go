package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"delta-hedger/internal/alerts"
	"delta-hedger/internal/hedge"
	"delta-hedger/internal/state"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	operatorOffsetKey = "telegram:operator:last_update_id"
	operatorAuditKey  = "ops:audit:"
	journalShowLimit  = 10
)

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID     int64             `json:"update_id"`
	Time         time.Time         `json:"time"`
	Action       string            `json:"action"`
	Command      string            `json:"command"`
	UserID       int64             `json:"user_id"`
	Username     string            `json:"username,omitempty"`
	ChatID       int64             `json:"chat_id"`
	PausedBefore bool              `json:"paused_before"`
	PausedAfter  bool              `json:"paused_after"`
	ParamsBefore map[string]string `json:"params_before,omitempty"`
	ParamsAfter  map[string]string `json:"params_after,omitempty"`
	Result       string            `json:"result,omitempty"`
}

func (a *App) startOperator(ctx context.Context) {
	if a.cfg == nil || !a.alerts.Enabled() {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	pollInterval := a.cfg.Telegram.PollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	allowedUsers := make(map[int64]struct{}, len(a.cfg.Telegram.OperatorUserIDs))
	for _, id := range a.cfg.Telegram.OperatorUserIDs {
		allowedUsers[id] = struct{}{}
	}
	go a.operatorLoop(ctx, chatID, allowedUsers, pollInterval)
}

func (a *App) operatorLoop(ctx context.Context, chatID int64, allowedUsers map[int64]struct{}, pollInterval time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := a.alerts.GetUpdates(ctx, offset, pollInterval)
		if err != nil {
			a.logOperatorError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if a.operatorWarned {
			a.log.Info("telegram operator recovered")
			a.operatorWarned = false
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, upd, chatID, allowedUsers)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return
	}
	if msg.Chat.ID != chatID {
		return
	}
	if len(allowedUsers) > 0 {
		if _, ok := allowedUsers[msg.From.ID]; !ok {
			return
		}
	}
	cmd, args, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	resp, err := a.handleOperatorCommand(ctx, cmd, args, meta)
	if err != nil {
		resp = fmt.Sprintf("command failed: %v", err)
	}
	if resp == "" {
		return
	}
	if err := a.alerts.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, []string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// "/status@my_bot" in group chats.
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return cmd, fields[1:], true
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd string, args []string, meta operatorMeta) (string, error) {
	switch cmd {
	case "status":
		return a.operatorStatus(ctx), nil
	case "pause", "resume":
		pause := cmd == "pause"
		before := a.isPaused()
		after := a.setPaused(pause)
		a.auditOperatorEvent(ctx, meta, operatorAuditEvent{Action: cmd, PausedBefore: before, PausedAfter: after})
		switch {
		case pause && before:
			return "hedging already paused", nil
		case pause:
			return "hedging paused", nil
		case !before:
			return "hedging already active", nil
		}
		return "hedging resumed", nil
	case "hedge":
		res, err := a.controller.Hedge(ctx)
		a.auditOperatorEvent(ctx, meta, operatorAuditEvent{Action: "hedge", Result: describeResult(res, err)})
		return describeResult(res, err), nil
	case "rebalance":
		res, err := a.controller.Rebalance(ctx)
		a.auditOperatorEvent(ctx, meta, operatorAuditEvent{Action: "rebalance", Result: describeResult(res, err)})
		return describeResult(res, err), nil
	case "cancel":
		pending := a.controller.Pending()
		err := a.controller.Cancel(ctx)
		result := "pending order cancelled"
		if err != nil {
			result = "cancel failed: " + err.Error()
		} else if pending != nil {
			result = fmt.Sprintf("cancelled %s", pending.Key)
		}
		a.auditOperatorEvent(ctx, meta, operatorAuditEvent{Action: "cancel", Result: result})
		return result, nil
	case "params":
		return a.handleParamsCommand(ctx, args, meta)
	case "journal":
		return a.journalStatus(ctx)
	default:
		return operatorHelpText(), nil
	}
}

func (a *App) handleParamsCommand(ctx context.Context, args []string, meta operatorMeta) (string, error) {
	if len(args) == 0 || strings.EqualFold(args[0], "show") {
		return formatParams(a.controller.Params()), nil
	}
	switch strings.ToLower(args[0]) {
	case "reset":
		base, err := a.cfg.HedgeParams()
		if err != nil {
			return "", err
		}
		before := paramsFields(a.controller.Params())
		if err := a.controller.UpdateParams(base); err != nil {
			return "", err
		}
		a.auditOperatorEvent(ctx, meta, operatorAuditEvent{Action: "params_reset", ParamsBefore: before, ParamsAfter: paramsFields(base)})
		return "params reset to config", nil
	case "set":
		overrides, err := parseParamOverrides(args[1:])
		if err != nil {
			return "", err
		}
		current := a.controller.Params()
		next, err := applyParamOverrides(current, overrides)
		if err != nil {
			return "", err
		}
		if err := a.controller.UpdateParams(next); err != nil {
			return "", err
		}
		a.auditOperatorEvent(ctx, meta, operatorAuditEvent{Action: "params_set", ParamsBefore: paramsFields(current), ParamsAfter: paramsFields(next)})
		return "params updated", nil
	default:
		return "", errors.New("unknown params command: use /params show|set|reset")
	}
}

func parseParamOverrides(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, errors.New("params set requires key=value pairs")
	}
	out := make(map[string]string)
	for _, arg := range args {
		parts := strings.SplitN(arg, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid param setting: %s", arg)
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		val := strings.TrimSpace(parts[1])
		if key == "" || val == "" {
			return nil, fmt.Errorf("invalid param setting: %s", arg)
		}
		out[key] = val
	}
	return out, nil
}

func applyParamOverrides(base hedge.Params, overrides map[string]string) (hedge.Params, error) {
	next := base
	for key, val := range overrides {
		var err error
		switch key {
		case "interaction_delay":
			next.Hedger.InteractionDelay, err = time.ParseDuration(val)
		case "min_cancel_delay":
			next.Leverage.MinCancelDelay, err = time.ParseDuration(val)
		case "hedge_cap":
			next.Hedger.HedgeCap, err = decimal.NewFromString(val)
		case "min_size_delta":
			next.Hedger.MinSizeDelta, err = decimal.NewFromString(val)
		case "target_leverage":
			next.Leverage.TargetLeverage, err = decimal.NewFromString(val)
		case "leverage_buffer":
			next.Leverage.LeverageBuffer, err = decimal.NewFromString(val)
		case "acceptable_slippage":
			next.Leverage.AcceptableSlippage, err = decimal.NewFromString(val)
		case "collateral_buffer":
			next.Leverage.CollateralBuffer, err = decimal.NewFromString(val)
		default:
			return hedge.Params{}, fmt.Errorf("unknown param: %s", key)
		}
		if err != nil {
			return hedge.Params{}, fmt.Errorf("%s: %w", key, err)
		}
	}
	if err := next.Validate(); err != nil {
		return hedge.Params{}, err
	}
	return next, nil
}

func paramsFields(p hedge.Params) map[string]string {
	return map[string]string{
		"interaction_delay":   p.Hedger.InteractionDelay.String(),
		"hedge_cap":           p.Hedger.HedgeCap.String(),
		"min_size_delta":      p.Hedger.MinSizeDelta.String(),
		"target_leverage":     p.Leverage.TargetLeverage.String(),
		"leverage_buffer":     p.Leverage.LeverageBuffer.String(),
		"acceptable_slippage": p.Leverage.AcceptableSlippage.String(),
		"min_cancel_delay":    p.Leverage.MinCancelDelay.String(),
		"collateral_buffer":   p.Leverage.CollateralBuffer.String(),
	}
}

func formatParams(p hedge.Params) string {
	fields := paramsFields(p)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys)+1)
	lines = append(lines, "params:")
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s=%s", k, fields[k]))
	}
	return strings.Join(lines, "\n")
}

func describeResult(res hedge.Result, err error) string {
	if err != nil {
		return fmt.Sprintf("%s: %v", res.Action, err)
	}
	if res.Action == hedge.ActionSubmitted && res.Order != nil {
		o := res.Order
		return fmt.Sprintf("submitted %s %s size=%s collateral=%s price=%s key=%s",
			o.Kind, o.Direction, o.SizeDelta, o.CollateralDelta, o.AcceptablePrice, o.Key)
	}
	if res.Reason != "" {
		return fmt.Sprintf("%s: %s", res.Action, res.Reason)
	}
	return string(res.Action)
}

func (a *App) operatorStatus(ctx context.Context) string {
	lines := []string{
		fmt.Sprintf("state: %s", a.controller.State()),
		fmt.Sprintf("paused: %t", a.isPaused()),
		fmt.Sprintf("venue: %s %s", a.cfg.Venue.Kind, a.cfg.Venue.Asset),
	}
	pos, err := a.controller.Position(ctx)
	if err != nil {
		lines = append(lines, fmt.Sprintf("position: unavailable (%v)", err))
	} else {
		lines = append(lines, fmt.Sprintf("position: %s size=%s collateral=%s entry=%s upnl=%s",
			pos.Direction, pos.Size, pos.Collateral, pos.EntryPrice, pos.UnrealizedPnl))
		if pos.DualLeg() {
			lines = append(lines, fmt.Sprintf("dual_leg: long=%s short=%s", pos.Long.Size, pos.Short.Size))
		}
		if ref, err := a.oracle.Price(ctx, hedge.SideReference); err == nil {
			lines = append(lines, fmt.Sprintf("reference_price: %s", ref))
			if lev, ok := hedge.Leverage(pos, ref); ok {
				lines = append(lines, fmt.Sprintf("leverage: %s", lev.StringFixed(3)))
			}
		}
	}
	if target, err := a.controller.CappedTarget(ctx); err == nil {
		lines = append(lines, fmt.Sprintf("target: %s", target))
	} else {
		lines = append(lines, fmt.Sprintf("target: unavailable (%v)", err))
	}
	if p := a.controller.Pending(); p != nil {
		lines = append(lines, fmt.Sprintf("pending: %s %s size=%s collateral=%s key=%s since=%s",
			p.Kind, p.Direction, p.SizeDelta, p.CollateralDelta, p.Key, p.SubmittedAt.UTC().Format(time.RFC3339)))
	} else {
		lines = append(lines, "pending: none")
	}
	if a.pool != nil {
		available, posted := a.pool.Balances()
		lines = append(lines, fmt.Sprintf("pool: available=%s posted=%s", available, posted))
	}
	return strings.Join(lines, "\n")
}

func (a *App) journalStatus(ctx context.Context) (string, error) {
	entries, err := state.RecentJournal(ctx, a.store, journalShowLimit)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "journal: empty", nil
	}
	lines := make([]string, 0, len(entries)+1)
	lines = append(lines, "journal (newest first):")
	for _, e := range entries {
		line := fmt.Sprintf("#%d %s %s->%s %s", e.Seq, time.UnixMilli(e.AtMS).UTC().Format(time.RFC3339), e.From, e.To, e.Event)
		if e.Key != "" {
			line += " " + e.Key
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/status - controller state, position and pending order",
		"/pause - stop scheduled hedging and rebalancing",
		"/resume - resume scheduled hedging and rebalancing",
		"/hedge - run one hedge step now",
		"/rebalance - run one leverage rebalance now",
		"/cancel - cancel the pending order",
		"/params show - show active params",
		"/params set key=value ... - override params (keys: interaction_delay, hedge_cap, min_size_delta, target_leverage, leverage_buffer, acceptable_slippage, min_cancel_delay, collateral_buffer)",
		"/params reset - restore params from config",
		"/journal - recent state transitions",
	}, "\n")
}

func (a *App) isPaused() bool {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	return a.paused
}

func (a *App) setPaused(paused bool) bool {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()
	a.paused = paused
	return a.paused
}

func (a *App) logOperatorError(err error) {
	if a.operatorWarned {
		return
	}
	a.operatorWarned = true
	a.log.Warn("telegram operator failed", zap.Error(err))
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	if a.store == nil {
		return 0
	}
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if a.store == nil {
		return
	}
	_ = a.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10))
}

func (a *App) auditOperatorEvent(ctx context.Context, meta operatorMeta, event operatorAuditEvent) {
	if a.store == nil {
		return
	}
	event.UpdateID = meta.UpdateID
	event.Time = a.now().UTC()
	event.Command = meta.Raw
	event.UserID = meta.UserID
	event.Username = meta.Username
	event.ChatID = meta.ChatID
	key := fmt.Sprintf("%s%d:%d", operatorAuditKey, event.Time.UnixNano(), event.UpdateID)
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := a.store.Set(ctx, key, string(payload)); err != nil {
		a.log.Warn("operator audit failed", zap.Error(err))
	}
}
