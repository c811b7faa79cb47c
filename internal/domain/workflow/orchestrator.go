package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rcm/rcm/internal/platform/gateway"
)

// OutcomeDispatcher receives the terminal adjudication of a completed
// workflow. The remittance package implements it; a nil dispatcher disables
// the denial and payment sub-flows.
type OutcomeDispatcher interface {
	// ClaimDenied opens a denial case. It reports whether a corrected
	// resubmission should be started.
	ClaimDenied(ctx context.Context, inst *Instance, claimID string, out StatusOutput) (resubmit bool, err error)

	// ClaimPaid posts the payment against the claim.
	ClaimPaid(ctx context.Context, inst *Instance, claimID string, out StatusOutput) error
}

// Options tunes the orchestrator's retry and polling policy.
type Options struct {
	WorkerPoolSize     int
	MaxAttempts        int
	BackoffBase        time.Duration
	BackoffCap         time.Duration
	StatusPollInterval time.Duration
	MaxStatusPolls     int
}

func (o *Options) applyDefaults() {
	if o.WorkerPoolSize <= 0 {
		o.WorkerPoolSize = 8
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	if o.BackoffCap < o.BackoffBase {
		o.BackoffCap = 30 * time.Second
	}
	if o.StatusPollInterval <= 0 {
		o.StatusPollInterval = 5 * time.Second
	}
	if o.MaxStatusPolls <= 0 {
		o.MaxStatusPolls = 10
	}
}

// Orchestrator drives workflow instances through the handler pipeline. All
// state lives in the Store; the orchestrator itself holds no per-workflow
// state, so any process can pick up any instance.
type Orchestrator struct {
	store      Store
	handlers   []Handler
	dispatcher OutcomeDispatcher
	opts       Options
	logger     zerolog.Logger

	sem chan struct{}

	// sleep is swapped out by tests so retries do not slow the suite down.
	sleep func(ctx context.Context, d time.Duration) error

	baseCtx context.Context
}

func NewOrchestrator(store Store, handlers []Handler, dispatcher OutcomeDispatcher, opts Options, logger zerolog.Logger) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		store:      store,
		handlers:   handlers,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger.With().Str("component", "orchestrator").Logger(),
		sem:        make(chan struct{}, opts.WorkerPoolSize),
		sleep:      ctxSleep,
		baseCtx:    context.Background(),
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start creates a new workflow for the request and schedules its first run.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*Instance, error) {
	if req.EncounterID == "" {
		return nil, fmt.Errorf("encounter_id is required")
	}
	initial := Context{}
	if err := initial.Set(ContextKeyRequest, req); err != nil {
		return nil, err
	}
	inst, err := o.store.Create(ctx, req.EncounterID, initial)
	if err != nil {
		return nil, err
	}
	o.logger.Info().Str("workflow_id", inst.ID.String()).Str("encounter_id", req.EncounterID).Msg("workflow created")
	o.enqueue(inst.ID)
	return inst, nil
}

// Resume re-drives a paused or interrupted workflow. Corrections, when
// present, overwrite matching context keys before execution continues from
// the current step. Completed steps are never re-executed. A FAILED
// workflow is resumable only when its failure kind is a retryable
// transport error; the failed step gets a fresh attempt.
func (o *Orchestrator) Resume(ctx context.Context, id uuid.UUID, corrections Context) (*Instance, error) {
	inst, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if IsTerminal(inst.Status) && !retryableFailure(inst) {
		return nil, fmt.Errorf("workflow %s is %s and cannot be resumed", id, inst.Status)
	}

	switch inst.Status {
	case StatusPaused:
		for k, v := range corrections {
			inst.Context[k] = v
		}
		inst.Status = StatusInProgress
		inst.BlockingViolations = nil
		if err := o.store.UpdateStatus(ctx, inst); err != nil {
			return nil, err
		}
	case StatusFailed:
		if err := o.reopen(ctx, inst); err != nil {
			return nil, err
		}
	}
	o.enqueue(id)
	return inst, nil
}

// retryableFailure reports whether a FAILED instance can be re-driven: the
// last error was a transient transport problem, not a validation or rule
// verdict.
func retryableFailure(inst *Instance) bool {
	return inst.Status == StatusFailed && inst.FailureKind == KindRetryableTransport
}

// reopen moves a retryably-failed instance back to IN_PROGRESS, clearing
// the failure fields so the run loop picks up at the failed step.
func (o *Orchestrator) reopen(ctx context.Context, inst *Instance) error {
	inst.Status = StatusInProgress
	inst.FailedStep = ""
	inst.FailureKind = ""
	inst.FailureReason = ""
	return o.store.UpdateStatus(ctx, inst)
}

// Cancel requests cancellation. Idle workflows go straight to CANCELLED; a
// running one is flagged and the run loop honors the flag at the next step
// boundary, after the in-flight step's result is recorded.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID) (*Instance, error) {
	for {
		inst, err := o.store.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if IsTerminal(inst.Status) {
			return nil, fmt.Errorf("workflow %s is already %s", id, inst.Status)
		}

		switch inst.Status {
		case StatusPending, StatusPaused:
			inst.Status = StatusCancelled
		default:
			inst.CancelRequested = true
		}
		err = o.store.UpdateStatus(ctx, inst)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return inst, nil
	}
}

// Sweep re-enqueues IN_PROGRESS workflows whose worker died mid-run, and
// reopens workflows that failed on a retryable transport error so they get
// a fresh attempt once the outage clears.
func (o *Orchestrator) Sweep(ctx context.Context, staleAfter time.Duration) (int, error) {
	stale, err := o.store.ListResumable(ctx, staleAfter)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, inst := range stale {
		if retryableFailure(inst) {
			if err := o.reopen(ctx, inst); err != nil {
				o.logger.Error().Err(err).Str("workflow_id", inst.ID.String()).Msg("reopen failed workflow")
				continue
			}
		}
		o.logger.Warn().Str("workflow_id", inst.ID.String()).Time("updated_at", inst.UpdatedAt).Msg("re-enqueueing stale workflow")
		o.enqueue(inst.ID)
		swept++
	}
	return swept, nil
}

// StartSweeper runs Sweep on the given interval until ctx is cancelled.
func (o *Orchestrator) StartSweeper(ctx context.Context, interval, staleAfter time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := o.Sweep(ctx, staleAfter); err != nil {
					o.logger.Error().Err(err).Msg("sweep failed")
				}
			}
		}
	}()
}

func (o *Orchestrator) enqueue(id uuid.UUID) {
	go func() {
		o.sem <- struct{}{}
		defer func() { <-o.sem }()
		o.Run(o.baseCtx, id)
	}()
}

// Run executes the workflow until it reaches a terminal state, pauses, or
// yields (pending adjudication). The instance is reloaded at every step
// boundary so cancellation requested by another goroutine is observed
// between steps, never mid-step.
func (o *Orchestrator) Run(ctx context.Context, id uuid.UUID) {
	log := o.logger.With().Str("workflow_id", id.String()).Logger()

	for {
		inst, err := o.store.Load(ctx, id)
		if err != nil {
			log.Error().Err(err).Msg("load workflow")
			return
		}
		if IsTerminal(inst.Status) {
			return
		}

		if inst.CancelRequested {
			inst.Status = StatusCancelled
			if err := o.store.UpdateStatus(ctx, inst); err != nil {
				if !errors.Is(err, ErrVersionConflict) {
					log.Error().Err(err).Msg("cancel workflow")
				}
				return
			}
			log.Info().Msg("workflow cancelled")
			return
		}

		if inst.Status == StatusPaused {
			// Paused workflows move again only through Resume.
			return
		}
		if inst.Status == StatusPending {
			inst.Status = StatusInProgress
			if err := o.store.UpdateStatus(ctx, inst); err != nil {
				if !errors.Is(err, ErrVersionConflict) {
					log.Error().Err(err).Msg("mark in progress")
				}
				return
			}
		}

		if inst.CurrentStepIndex >= len(o.handlers) {
			o.complete(ctx, inst, log)
			return
		}

		h := o.handlers[inst.CurrentStepIndex]
		if !h.Applicable(inst.Context) {
			if done := o.recordSkip(ctx, inst, h, log); !done {
				return
			}
			continue
		}

		proceed := o.executeStep(ctx, inst, h, log)
		if !proceed {
			return
		}
	}
}

// absorbCancel reloads the instance after a version conflict and reports
// whether the only concurrent write was a cancellation request. The flag is
// folded into the worker's copy so the step result still lands; the run loop
// honors the flag at the next boundary.
func (o *Orchestrator) absorbCancel(ctx context.Context, inst *Instance) bool {
	fresh, err := o.store.Load(ctx, inst.ID)
	if err != nil || IsTerminal(fresh.Status) {
		return false
	}
	if fresh.CancelRequested && !inst.CancelRequested && fresh.CurrentStepIndex <= inst.CurrentStepIndex {
		inst.CancelRequested = true
		inst.Version = fresh.Version
		return true
	}
	return false
}

func (o *Orchestrator) saveStep(ctx context.Context, inst *Instance, rec *StepRecord) error {
	err := o.store.SaveStepResult(ctx, inst, rec)
	if errors.Is(err, ErrVersionConflict) && o.absorbCancel(ctx, inst) {
		return o.store.SaveStepResult(ctx, inst, rec)
	}
	return err
}

func (o *Orchestrator) recordSkip(ctx context.Context, inst *Instance, h Handler, log zerolog.Logger) bool {
	now := time.Now()
	rec := &StepRecord{
		StepName:      h.Name(),
		AttemptNumber: 1,
		State:         StepStateSkipped,
		StartedAt:     now,
		FinishedAt:    &now,
	}
	inst.CurrentStepIndex++
	if err := o.saveStep(ctx, inst, rec); err != nil {
		if !errors.Is(err, ErrVersionConflict) {
			log.Error().Err(err).Str("step", h.Name()).Msg("record skipped step")
		}
		return false
	}
	log.Info().Str("step", h.Name()).Msg("step skipped")
	return true
}

// executeStep runs one handler through the retry policy. The return value
// reports whether the run loop should proceed to the next step boundary.
func (o *Orchestrator) executeStep(ctx context.Context, inst *Instance, h Handler, log zerolog.Logger) bool {
	baseAttempt, polls, err := o.priorAttempts(ctx, inst.ID, h.Name())
	if err != nil {
		log.Error().Err(err).Str("step", h.Name()).Msg("load step history")
		return false
	}

	snapshot, err := json.Marshal(inst.Context)
	if err != nil {
		snapshot = nil
	}

	for attempt := baseAttempt + 1; ; attempt++ {
		started := time.Now()
		result := h.Execute(ctx, inst.Context)
		finished := time.Now()

		rec := &StepRecord{
			StepName:      h.Name(),
			AttemptNumber: attempt,
			InputSnapshot: snapshot,
			StartedAt:     started,
			FinishedAt:    &finished,
		}

		switch result.Kind {
		case ResultSuccess:
			rec.State = StepStateCompleted
			rec.Output = result.Output
			inst.Context[h.Name()] = result.Output
			inst.CurrentStepIndex++
			if err := o.saveStep(ctx, inst, rec); err != nil {
				o.logSaveErr(err, log, h.Name(), "record completed step")
				return false
			}
			log.Info().Str("step", h.Name()).Int("attempt", attempt).Msg("step completed")
			return true

		case ResultRetryable:
			rec.Error = result.Reason
			rec.FailureKind = result.FailureKind
			if attempt >= o.opts.MaxAttempts {
				rec.State = StepStateFailed
				o.markFailed(inst, h.Name(), result)
				if err := o.saveStep(ctx, inst, rec); err != nil {
					o.logSaveErr(err, log, h.Name(), "record exhausted step")
					return false
				}
				log.Error().Str("step", h.Name()).Int("attempt", attempt).Str("reason", result.Reason).Msg("step failed after retries")
				return false
			}
			rec.State = StepStateRetrying
			if err := o.saveStep(ctx, inst, rec); err != nil {
				o.logSaveErr(err, log, h.Name(), "record retrying step")
				return false
			}
			delay := o.backoff(attempt)
			log.Warn().Str("step", h.Name()).Int("attempt", attempt).Dur("backoff", delay).Str("reason", result.Reason).Msg("step retrying")
			if err := o.sleep(ctx, delay); err != nil {
				return false
			}

		case ResultTerminal:
			rec.State = StepStateFailed
			rec.Error = result.Reason
			rec.FailureKind = result.FailureKind
			o.markFailed(inst, h.Name(), result)
			if err := o.saveStep(ctx, inst, rec); err != nil {
				o.logSaveErr(err, log, h.Name(), "record failed step")
				return false
			}
			evt := log.Error()
			if result.FailureKind == KindInvariant {
				evt = log.Error().Bool("invariant", true)
			}
			evt.Str("step", h.Name()).Str("failure_kind", result.FailureKind).Str("reason", result.Reason).Msg("step failed")
			return false

		case ResultBlocking:
			rec.State = StepStateFailed
			rec.Error = result.Reason
			rec.FailureKind = result.FailureKind
			inst.Status = StatusPaused
			inst.BlockingViolations = result.Violations
			if err := o.saveStep(ctx, inst, rec); err != nil {
				o.logSaveErr(err, log, h.Name(), "record blocking step")
				return false
			}
			log.Warn().Str("step", h.Name()).Int("violations", len(result.Violations)).Msg("workflow paused on blocking violations")
			return false

		case ResultPending:
			rec.State = StepStateRetrying
			rec.Error = result.Reason
			rec.FailureKind = result.FailureKind
			if polls+1 >= o.opts.MaxStatusPolls {
				rec.State = StepStateFailed
				o.markFailed(inst, h.Name(), RetryableFailure("adjudication did not conclude within the polling budget"))
				if err := o.saveStep(ctx, inst, rec); err != nil {
					o.logSaveErr(err, log, h.Name(), "record poll budget exhaustion")
					return false
				}
				log.Error().Str("step", h.Name()).Int("polls", polls+1).Msg("polling budget exhausted")
				return false
			}
			if err := o.saveStep(ctx, inst, rec); err != nil {
				o.logSaveErr(err, log, h.Name(), "record pending poll")
				return false
			}
			log.Info().Str("step", h.Name()).Int("polls", polls+1).Msg("adjudication pending, re-poll scheduled")
			o.schedulePoll(inst.ID)
			return false

		default:
			log.Error().Str("step", h.Name()).Str("kind", result.Kind).Msg("handler returned unknown result kind")
			return false
		}
	}
}

// priorAttempts counts earlier attempts of the named step so retries after a
// crash or a pending poll continue the attempt sequence instead of
// restarting it.
func (o *Orchestrator) priorAttempts(ctx context.Context, id uuid.UUID, stepName string) (attempts, polls int, err error) {
	recs, err := o.store.ListSteps(ctx, id)
	if err != nil {
		return 0, 0, err
	}
	for _, rec := range recs {
		if rec.StepName != stepName {
			continue
		}
		if rec.AttemptNumber > attempts {
			attempts = rec.AttemptNumber
		}
		if rec.State == StepStateRetrying {
			polls++
		}
	}
	return attempts, polls, nil
}

func (o *Orchestrator) markFailed(inst *Instance, stepName string, result StepResult) {
	inst.Status = StatusFailed
	inst.FailedStep = stepName
	inst.FailureKind = result.FailureKind
	inst.FailureReason = result.Reason
}

func (o *Orchestrator) backoff(attempt int) time.Duration {
	d := o.opts.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= o.opts.BackoffCap {
			return o.opts.BackoffCap
		}
	}
	if d > o.opts.BackoffCap {
		return o.opts.BackoffCap
	}
	return d
}

// schedulePoll re-runs the workflow after the poll interval without holding
// a worker slot while waiting.
func (o *Orchestrator) schedulePoll(id uuid.UUID) {
	go func() {
		if err := o.sleep(o.baseCtx, o.opts.StatusPollInterval); err != nil {
			return
		}
		o.enqueue(id)
	}()
}

func (o *Orchestrator) logSaveErr(err error, log zerolog.Logger, step, msg string) {
	if errors.Is(err, ErrVersionConflict) {
		log.Warn().Str("step", step).Msg("lost write race, yielding workflow")
		return
	}
	log.Error().Err(err).Str("step", step).Msg(msg)
}

// complete marks the workflow COMPLETED and hands the adjudication outcome
// to the dispatcher. Workflows that ended early (ineligible coverage) have
// no status output and nothing to dispatch.
func (o *Orchestrator) complete(ctx context.Context, inst *Instance, log zerolog.Logger) {
	inst.Status = StatusCompleted
	if err := o.store.UpdateStatus(ctx, inst); err != nil {
		if !errors.Is(err, ErrVersionConflict) {
			log.Error().Err(err).Msg("mark completed")
		}
		return
	}
	log.Info().Msg("workflow completed")

	if o.dispatcher == nil {
		return
	}
	var status StatusOutput
	if ok, err := inst.Context.Get(StepStatusCheck, &status); !ok || err != nil {
		return
	}
	var built ClaimBuildOutput
	if ok, err := inst.Context.Get(StepClaimBuild, &built); !ok || err != nil {
		return
	}

	switch status.Outcome {
	case gateway.OutcomePaid:
		if err := o.dispatcher.ClaimPaid(ctx, inst, built.ClaimID, status); err != nil {
			log.Error().Err(err).Msg("dispatch payment")
		}
	case gateway.OutcomeDenied:
		resubmit, err := o.dispatcher.ClaimDenied(ctx, inst, built.ClaimID, status)
		if err != nil {
			log.Error().Err(err).Msg("dispatch denial")
			return
		}
		if resubmit {
			o.resubmit(ctx, inst, log)
		}
	}
}

// resubmit starts a fresh workflow for the same encounter, marked as a
// resubmission of the denied one. At most one cycle runs per claim; a denial
// that arrives already carrying the marker stays with the denial case for
// manual review.
func (o *Orchestrator) resubmit(ctx context.Context, inst *Instance, log zerolog.Logger) {
	var prior uuid.UUID
	if ok, _ := inst.Context.Get(ContextKeyResubmissionOf, &prior); ok {
		log.Info().Str("original_workflow_id", prior.String()).Msg("resubmission already attempted, leaving denial for manual review")
		return
	}

	var req StartRequest
	if ok, err := inst.Context.Get(ContextKeyRequest, &req); !ok || err != nil {
		log.Error().Msg("denied workflow has no start request, cannot resubmit")
		return
	}

	initial := Context{}
	if err := initial.Set(ContextKeyRequest, req); err != nil {
		log.Error().Err(err).Msg("build resubmission context")
		return
	}
	if err := initial.Set(ContextKeyResubmissionOf, inst.ID); err != nil {
		log.Error().Err(err).Msg("build resubmission context")
		return
	}

	next, err := o.store.Create(ctx, inst.EncounterID, initial)
	if err != nil {
		log.Error().Err(err).Msg("create resubmission workflow")
		return
	}
	log.Info().Str("resubmission_workflow_id", next.ID.String()).Msg("resubmission workflow created")
	o.enqueue(next.ID)
}
