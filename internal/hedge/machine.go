package hedge

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// machine is everything the controller mutates between steps.
type machine struct {
	state           State
	pending         *PendingOrder
	lastInteraction time.Time
	lastSubmittedAt time.Time
}

type Event interface {
	name() string
}

// EventHedge and EventRebalance with a nil Request only check that a
// submission is currently allowed.
type EventHedge struct {
	Request *OrderRequest
}

type EventRebalance struct {
	Request *OrderRequest
}

type EventHeal struct {
	Request OrderRequest
}

type EventSubmitted struct {
	Order       PendingOrder
	Directional bool
}

type EventSubmitFailed struct {
	Request OrderRequest
	Err     error
}

type EventExecuted struct {
	Key     OrderKey
	Success bool
}

type EventCancel struct {
	Now time.Time
}

type EventRestore struct {
	Snapshot Snapshot
}

func (EventHedge) name() string        { return "hedge" }
func (EventRebalance) name() string    { return "rebalance" }
func (EventHeal) name() string         { return "heal" }
func (EventSubmitted) name() string    { return "submitted" }
func (EventSubmitFailed) name() string { return "submit_failed" }
func (EventExecuted) name() string     { return "executed" }
func (EventCancel) name() string       { return "cancel" }
func (EventRestore) name() string      { return "restore" }

type Effect interface {
	effect()
}

type EffectSubmit struct {
	Request OrderRequest
}

type EffectRequestCancel struct {
	Key OrderKey
}

type EffectSweepResidual struct{}

type EffectReturnCapital struct {
	Amount decimal.Decimal
}

type EffectAlert struct {
	Message string
}

func (EffectSubmit) effect()        {}
func (EffectRequestCancel) effect() {}
func (EffectSweepResidual) effect() {}
func (EffectReturnCapital) effect() {}
func (EffectAlert) effect()         {}

// step is the outcome of one transition. An ignored step leaves the machine
// untouched and carries no effects.
type step struct {
	next    machine
	effects []Effect
	ignored bool
}

func stateFor(kind OrderKind) State {
	if kind == KindDecrease {
		return StatePendingDecrease
	}
	return StatePendingIncrease
}

func ignore(m machine) step {
	return step{next: m, ignored: true}
}

// transition is the only place machine state changes. It performs no I/O.
func transition(m machine, p *Params, ev Event) (step, error) {
	idle := m.state == StateIdle

	switch ev := ev.(type) {
	case EventHedge:
		if !idle {
			return step{}, ErrOrderAlreadyPending
		}
		if ev.Request == nil {
			return ignore(m), nil
		}
		return step{next: m, effects: []Effect{EffectSubmit{Request: *ev.Request}}}, nil

	case EventRebalance:
		if !idle {
			return step{}, ErrOrderAlreadyPending
		}
		if ev.Request == nil {
			return ignore(m), nil
		}
		return step{next: m, effects: []Effect{EffectSubmit{Request: *ev.Request}}}, nil

	case EventHeal:
		if !idle {
			return step{}, ErrOrderAlreadyPending
		}
		return step{next: m, effects: []Effect{EffectSubmit{Request: ev.Request}}}, nil

	case EventSubmitted:
		if !idle {
			return step{}, ErrOrderAlreadyPending
		}
		order := ev.Order
		if order.SubmittedAt.Before(m.lastSubmittedAt) {
			order.SubmittedAt = m.lastSubmittedAt
		}
		next := m
		next.state = stateFor(order.Kind)
		next.pending = &order
		next.lastSubmittedAt = order.SubmittedAt
		if ev.Directional {
			next.lastInteraction = order.SubmittedAt
		}
		return step{next: next}, nil

	case EventSubmitFailed:
		if !idle {
			return ignore(m), nil
		}
		effects := []Effect{}
		if ev.Request.Kind == KindIncrease && ev.Request.CollateralDelta.IsPositive() {
			effects = append(effects, EffectReturnCapital{Amount: ev.Request.CollateralDelta})
		}
		effects = append(effects,
			EffectSweepResidual{},
			EffectAlert{Message: fmt.Sprintf("%s %s submission failed: %v", ev.Request.Kind, ev.Request.Direction, ev.Err)},
		)
		return step{next: m, effects: effects}, nil

	case EventExecuted:
		if idle || m.pending == nil || m.pending.Key != ev.Key {
			return ignore(m), nil
		}
		done := *m.pending
		next := m
		next.state = StateIdle
		next.pending = nil
		effects := []Effect{EffectSweepResidual{}}
		if !ev.Success {
			effects = append(effects, EffectAlert{Message: fmt.Sprintf(
				"order %s (%s %s size %s collateral %s) failed at venue: %v",
				done.Key, done.Kind, done.Direction, done.SizeDelta, done.CollateralDelta, ErrVenueExecutionFailed,
			)})
		}
		return step{next: next, effects: effects}, nil

	case EventCancel:
		if idle || m.pending == nil {
			return step{}, ErrNoPendingOrder
		}
		if ev.Now.Sub(m.pending.SubmittedAt) < p.Leverage.MinCancelDelay {
			return step{}, ErrCancellationTooEarly
		}
		next := m
		next.state = StateIdle
		next.pending = nil
		return step{next: next, effects: []Effect{
			EffectRequestCancel{Key: m.pending.Key},
			EffectSweepResidual{},
		}}, nil

	case EventRestore:
		if !idle {
			return step{}, ErrOrderAlreadyPending
		}
		snap := ev.Snapshot
		next := machine{
			state:           StateIdle,
			lastInteraction: snap.LastInteraction,
			lastSubmittedAt: snap.LastSubmittedAt,
		}
		if snap.Pending != nil {
			order := *snap.Pending
			next.state = stateFor(order.Kind)
			next.pending = &order
			if order.SubmittedAt.After(next.lastSubmittedAt) {
				next.lastSubmittedAt = order.SubmittedAt
			}
		}
		return step{next: next}, nil
	}
	return step{}, fmt.Errorf("unhandled event %T", ev)
}
