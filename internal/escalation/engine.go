package escalation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"guardian-monitor/internal/audit"
	"guardian-monitor/internal/channel"
	"guardian-monitor/internal/clock"
	"guardian-monitor/internal/models"
)

// TierPolicy is one rung of the escalation ladder.
type TierPolicy struct {
	Name     string
	Delay    time.Duration // from episode start; the local tier fires immediately
	Contacts []models.StakeholderContact
}

// Config holds dispatch behavior shared by all tiers.
type Config struct {
	RetryCap    int
	BackoffBase time.Duration
}

// Engine runs the escalation ladder for one driver session. A danger
// transition opens an episode: the local tier dispatches immediately and
// the remote tiers are armed on timers. Recovery to Alert closes the
// episode, cancelling what has not gone out and sending all-clear notices
// to contacts already notified. An Unknown stretch does not close an
// episode; only a confirmed recovery does.
//
// All timing runs off the injected clock.
type Engine struct {
	cfg      Config
	tiers    []TierPolicy
	channels channel.Registry
	recorder audit.Recorder
	clk      clock.Clock
	logger   *zap.Logger

	// OnChange, when set, is invoked after any alert outcome changes.
	// Used to refresh published snapshots. Called without the engine lock.
	OnChange func()

	mu      sync.Mutex
	episode *episode
	wg      sync.WaitGroup
}

type episode struct {
	id            string
	correlationID string
	sessionID     string
	state         models.DriverState
	startedAt     time.Time
	timers        []clock.Timer
	started       []bool
	events        []*models.AlertEvent
	cancelled     bool
}

// NewEngine builds an engine over a three-tier ladder. Tiers must be
// ordered local, family, emergency.
func NewEngine(cfg Config, tiers []TierPolicy, channels channel.Registry, recorder audit.Recorder, clk clock.Clock, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		tiers:    tiers,
		channels: channels,
		recorder: recorder,
		clk:      clk,
		logger:   logger,
	}
}

// HandleTransition feeds one classifier transition into the ladder.
func (e *Engine) HandleTransition(event models.StateTransitionEvent) {
	e.mu.Lock()

	switch {
	case event.To.IsDanger():
		if e.episode == nil {
			e.openEpisode(event)
		} else if event.To.Severity() > e.episode.state.Severity() {
			// Worsening within an episode never restarts the ladder;
			// tiers not yet dispatched carry the worse state.
			e.episode.state = event.To
			e.logger.Info("episode severity raised",
				zap.String("episode_id", e.episode.id),
				zap.String("state", string(event.To)))
		}
		e.mu.Unlock()

	case event.To == models.StateAlert:
		e.closeEpisode(event)

	default:
		// Unknown: the episode, if any, stays open.
		e.mu.Unlock()
	}
}

// ActiveAlerts returns summaries of the open episode's alert events.
func (e *Engine) ActiveAlerts() []models.AlertSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.episode == nil {
		return nil
	}
	summaries := make([]models.AlertSummary, 0, len(e.episode.events))
	for _, ev := range e.episode.events {
		summaries = append(summaries, models.AlertSummary{
			EventID:     ev.EventID,
			Tier:        ev.Tier,
			TierName:    ev.TierName,
			Outcome:     ev.Outcome,
			Attempts:    ev.Attempts,
			AlarmLevel:  ev.AlarmLevel,
			TriggeredAt: ev.TriggeredAt,
		})
	}
	return summaries
}

// Wait blocks until all in-flight dispatches have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// openEpisode must be called with the lock held; it releases nothing.
func (e *Engine) openEpisode(event models.StateTransitionEvent) {
	ep := &episode{
		id:            uuid.New().String(),
		correlationID: event.EventID,
		sessionID:     event.SessionID,
		state:         event.To,
		startedAt:     e.clk.Now(),
		started:       make([]bool, len(e.tiers)),
	}
	e.episode = ep
	e.logger.Warn("danger episode opened",
		zap.String("episode_id", ep.id),
		zap.String("session_id", ep.sessionID),
		zap.String("state", string(event.To)))

	e.startTierLocked(ep, 0)
	for i := 1; i < len(e.tiers); i++ {
		tier := i
		timer := e.clk.AfterFunc(e.tiers[i].Delay, func() {
			e.mu.Lock()
			if e.episode == ep && !ep.cancelled {
				e.startTierLocked(ep, tier)
			}
			e.mu.Unlock()
		})
		ep.timers = append(ep.timers, timer)
	}
}

// closeEpisode is entered with the lock held and releases it.
func (e *Engine) closeEpisode(event models.StateTransitionEvent) {
	ep := e.episode
	if ep == nil {
		e.mu.Unlock()
		return
	}
	e.episode = nil
	ep.cancelled = true
	for _, timer := range ep.timers {
		timer.Stop()
	}

	var resolved []*models.AlertEvent
	for _, ev := range ep.events {
		if ev.Outcome == models.OutcomeSent {
			resolved = append(resolved, ev)
		}
	}
	e.logger.Info("danger episode closed",
		zap.String("episode_id", ep.id),
		zap.String("session_id", ep.sessionID),
		zap.Int("resolved_notices", len(resolved)))
	e.mu.Unlock()

	for _, ev := range resolved {
		e.sendResolved(ep, ev, event)
	}
}

// startTierLocked dispatches one tier exactly once per episode.
// Caller holds the lock.
func (e *Engine) startTierLocked(ep *episode, tier int) {
	if tier >= len(e.tiers) || ep.started[tier] || ep.cancelled {
		return
	}
	ep.started[tier] = true

	policy := e.tiers[tier]
	event := &models.AlertEvent{
		EventID:       uuid.New().String(),
		SessionID:     ep.sessionID,
		EpisodeID:     ep.id,
		CorrelationID: ep.correlationID,
		Tier:          tier,
		TierName:      policy.Name,
		Contacts:      policy.Contacts,
		State:         ep.state,
		AlarmLevel:    ep.state.AlarmLevel(),
		Outcome:       models.OutcomePending,
		TriggeredAt:   e.clk.Now(),
	}
	ep.events = append(ep.events, event)

	e.logger.Warn("escalation tier dispatched",
		zap.String("episode_id", ep.id),
		zap.Int("tier", tier),
		zap.String("tier_name", policy.Name),
		zap.String("alarm_level", event.AlarmLevel))

	e.wg.Add(1)
	go e.dispatch(ep, event)
}

// dispatch delivers one tier's message to its contacts, retrying failures
// with exponential backoff. Exhausting the retry cap fails the event and
// pulls the next tier forward.
func (e *Engine) dispatch(ep *episode, event *models.AlertEvent) {
	defer e.wg.Done()

	msg := channel.Message{
		SessionID:   event.SessionID,
		EpisodeID:   event.EpisodeID,
		EventID:     event.EventID,
		Tier:        event.Tier,
		State:       event.State,
		AlarmLevel:  event.AlarmLevel,
		Body:        fmt.Sprintf("Driver state %s in session %s", event.State, event.SessionID),
		TriggeredAt: event.TriggeredAt,
	}

	remaining := append([]models.StakeholderContact(nil), event.Contacts...)
	delivered := 0

	for attempt := 1; attempt <= e.cfg.RetryCap; attempt++ {
		e.mu.Lock()
		cancelled := ep.cancelled
		if !cancelled || delivered > 0 {
			event.Attempts = attempt
		}
		e.mu.Unlock()
		if cancelled && delivered == 0 {
			e.finish(ep, event, models.OutcomeCancelled)
			return
		}

		var failed []models.StakeholderContact
		for _, contact := range remaining {
			if err := e.sendOne(contact, msg); err != nil {
				e.logger.Error("alert delivery failed",
					zap.String("event_id", event.EventID),
					zap.String("contact_id", contact.ID),
					zap.Int("attempt", attempt),
					zap.Error(err))
				failed = append(failed, contact)
			} else {
				delivered++
			}
		}
		remaining = failed
		if len(remaining) == 0 {
			now := e.clk.Now()
			e.mu.Lock()
			event.SentAt = &now
			e.mu.Unlock()
			e.finish(ep, event, models.OutcomeSent)
			return
		}
		if attempt < e.cfg.RetryCap {
			<-e.after(e.cfg.BackoffBase * (1 << (attempt - 1)))
		}
	}

	// Cap exhausted with undelivered contacts.
	if delivered > 0 {
		now := e.clk.Now()
		e.mu.Lock()
		event.SentAt = &now
		e.mu.Unlock()
		e.finish(ep, event, models.OutcomeSent)
		return
	}
	e.finish(ep, event, models.OutcomeFailed)

	// A tier that could not be reached must not stall the ladder.
	e.mu.Lock()
	if e.episode == ep && !ep.cancelled && event.Tier+1 < len(e.tiers) {
		e.logger.Warn("escalating early after delivery failure",
			zap.String("episode_id", ep.id),
			zap.Int("failed_tier", event.Tier))
		e.startTierLocked(ep, event.Tier+1)
	}
	e.mu.Unlock()
}

func (e *Engine) sendOne(contact models.StakeholderContact, msg channel.Message) error {
	ch, ok := e.channels.Lookup(contact)
	if !ok {
		return fmt.Errorf("no transport for channel %q", contact.Channel)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return ch.Send(ctx, contact, msg)
}

// finish records the terminal outcome to the audit trail before the event
// leaves the engine's ownership.
func (e *Engine) finish(ep *episode, event *models.AlertEvent, outcome models.AlertOutcome) {
	e.mu.Lock()
	event.Outcome = outcome
	recorded := *event
	e.mu.Unlock()

	if err := e.recorder.RecordAlert(context.Background(), recorded); err != nil {
		e.logger.Error("failed to record alert outcome",
			zap.String("event_id", recorded.EventID),
			zap.Error(err))
	}
	e.notifyChange()
}

// sendResolved delivers the all-clear to one already-notified tier.
// Best effort, no retries: the danger is over.
func (e *Engine) sendResolved(ep *episode, original *models.AlertEvent, recovery models.StateTransitionEvent) {
	now := e.clk.Now()
	event := &models.AlertEvent{
		EventID:       uuid.New().String(),
		SessionID:     original.SessionID,
		EpisodeID:     original.EpisodeID,
		CorrelationID: recovery.EventID,
		Tier:          original.Tier,
		TierName:      original.TierName,
		Contacts:      original.Contacts,
		State:         models.StateAlert,
		AlarmLevel:    models.StateAlert.AlarmLevel(),
		Outcome:       models.OutcomeResolved,
		TriggeredAt:   now,
	}
	msg := channel.Message{
		SessionID:   event.SessionID,
		EpisodeID:   event.EpisodeID,
		EventID:     event.EventID,
		Tier:        event.Tier,
		State:       models.StateAlert,
		AlarmLevel:  event.AlarmLevel,
		Body:        fmt.Sprintf("Driver recovered in session %s", event.SessionID),
		TriggeredAt: now,
		Resolved:    true,
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for _, contact := range event.Contacts {
			if err := e.sendOne(contact, msg); err != nil {
				e.logger.Error("resolved notice delivery failed",
					zap.String("event_id", event.EventID),
					zap.String("contact_id", contact.ID),
					zap.Error(err))
			}
		}
		event.Attempts = 1
		event.SentAt = &now
		if err := e.recorder.RecordAlert(context.Background(), *event); err != nil {
			e.logger.Error("failed to record resolved notice",
				zap.String("event_id", event.EventID),
				zap.Error(err))
		}
		e.notifyChange()
	}()
}

func (e *Engine) notifyChange() {
	if e.OnChange != nil {
		e.OnChange()
	}
}

// after returns a channel closed once d has elapsed on the engine clock.
func (e *Engine) after(d time.Duration) <-chan struct{} {
	done := make(chan struct{})
	e.clk.AfterFunc(d, func() { close(done) })
	return done
}
