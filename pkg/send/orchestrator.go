package send

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Terminal statuses recorded against each request exactly once.
const (
	StatusSuccess      = "success"
	StatusFailure      = "failure"
	StatusCooldownSkip = "cooldown_skip"
	StatusDuplicate    = "duplicate"
	StatusDenied       = "denied"
	StatusFactoryError = "factory_error"
	StatusShutdown     = "shutdown"
)

// Pipeline log event names.
const (
	EventSendSuccess       = "send_success"
	EventSendFailure       = "send_failure"
	EventCooldownSkip      = "send_cooldown_skip"
	EventDuplicateSkip     = "send_duplicate_skip"
	EventPermitDenied      = "permit_denied"
	EventRetryExhausted    = "send_retry_exhausted"
	EventFactoryError      = "factory_error"
	EventSettingsReload    = "settings_reload"
	EventShutdownAbandoned = "shutdown_abandoned"
)

// Sender delivers a payload to a platform channel. Errors must be classified
// (*Error) so the retry policy can act on them.
type Sender interface {
	Send(ctx context.Context, platform, channel, payload string) error
}

// Outcome is one terminal pipeline event, handed to the metrics observer.
type Outcome struct {
	Event     string
	Job       string
	Platform  string
	Channel   string
	Status    string
	Reason    string
	Retryable bool
	At        time.Time
}

// Observer is the narrow metrics capability injected into the pipeline.
// Implementations never call back into the pipeline.
type Observer interface {
	CountOutcome(o Outcome)
	ObserveSendDuration(job, platform string, seconds float64)
}

// Orchestrator composes the gates, dispatches surviving payloads through the
// sender under the retry policy, and records one metrics outcome per terminal
// event. Each terminal event logs one structured line, except permit denials
// (permit_denied and <job>_permit_denied) and retry exhaustion
// (send_retry_exhausted before send_failure), which log two.
type Orchestrator struct {
	cooldown *CooldownGate
	dedupe   *DedupeDetector
	permit   *PermitGate
	retry    *RetryPolicy
	sender   Sender
	observer Observer
	log      *zap.Logger
	tracer   trace.Tracer

	now func() time.Time
}

// NewOrchestrator wires the pipeline. All collaborators are required except
// the tracer, which defaults to the global provider.
func NewOrchestrator(cooldown *CooldownGate, dedupe *DedupeDetector, permit *PermitGate, retry *RetryPolicy, sender Sender, observer Observer, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cooldown: cooldown,
		dedupe:   dedupe,
		permit:   permit,
		retry:    retry,
		sender:   sender,
		observer: observer,
		log:      log,
		tracer:   otel.Tracer("send"),
		now:      time.Now,
	}
}

// Process runs every request in the batch, in insertion order, through
// cooldown, dedupe, and permit checks before dispatch. Gate denials drop the
// request; they never consume quota or surface as errors.
func (o *Orchestrator) Process(ctx context.Context, batch *Batch) {
	ctx, span := o.tracer.Start(ctx, "batch.process",
		trace.WithAttributes(
			attribute.String("job", batch.Key.Job),
			attribute.String("platform", batch.Key.Platform),
			attribute.String("channel", batch.Key.Channel),
			attribute.Int("size", batch.Len()),
		))
	defer span.End()

	for i := range batch.Requests {
		o.processOne(ctx, batch.Requests[i])
	}
}

func (o *Orchestrator) processOne(ctx context.Context, req Request) {
	now := o.now()

	if !o.cooldown.Check(req.Job, now) {
		o.logEvent(EventCooldownSkip, req, StatusCooldownSkip)
		o.observer.CountOutcome(Outcome{
			Event: EventCooldownSkip, Job: req.Job, Platform: req.Platform,
			Channel: req.Channel, Status: StatusCooldownSkip, At: now,
		})
		return
	}

	if !o.dedupe.CheckAndInsert(ctx, req.Payload, now) {
		o.logEvent(EventDuplicateSkip, req, StatusDuplicate,
			zap.Bool("retryable", false))
		o.observer.CountOutcome(Outcome{
			Event: EventDuplicateSkip, Job: req.Job, Platform: req.Platform,
			Channel: req.Channel, Status: StatusDuplicate, At: now,
		})
		return
	}

	if dec := o.permit.Admit(channelKey(req), now); !dec.Granted {
		deniedJob := req.Job + dec.JobSuffix
		fields := []zap.Field{
			zap.String("reason", dec.Reason),
			zap.Bool("retryable", dec.Retryable),
			zap.String("denied_job", deniedJob),
		}
		// Both names are emitted until downstream consumers migrate off
		// the job-prefixed line.
		o.logEvent(EventPermitDenied, req, StatusDenied, fields...)
		o.logEvent(req.Job+"_permit_denied", req, StatusDenied, fields...)
		o.observer.CountOutcome(Outcome{
			Event: EventPermitDenied, Job: deniedJob, Platform: req.Platform,
			Channel: req.Channel, Status: StatusDenied, Reason: dec.Reason,
			Retryable: dec.Retryable, At: now,
		})
		return
	}

	o.dispatch(ctx, req)
}

func (o *Orchestrator) dispatch(ctx context.Context, req Request) {
	ctx, span := o.tracer.Start(ctx, "send.dispatch",
		trace.WithAttributes(attribute.String("correlation_id", req.CorrelationID)))
	defer span.End()

	start := o.now()
	attempts, err := o.retry.Do(ctx, func() error {
		return o.sender.Send(ctx, req.Platform, req.Channel, req.Payload)
	})
	finished := o.now()
	elapsed := finished.Sub(start).Seconds()

	if err == nil {
		// Quota consumption happens before the success metric becomes
		// externally visible.
		o.permit.ObserveSuccess(channelKey(req), finished)
		o.cooldown.RecordSuccess(req.Job, finished)
		o.logEvent(EventSendSuccess, req, StatusSuccess,
			zap.Int("attempts", attempts),
			zap.Float64("duration_seconds", elapsed))
		o.observer.CountOutcome(Outcome{
			Event: EventSendSuccess, Job: req.Job, Platform: req.Platform,
			Channel: req.Channel, Status: StatusSuccess, At: finished,
		})
		o.observer.ObserveSendDuration(req.Job, req.Platform, elapsed)
		return
	}

	span.RecordError(err)
	exhausted := errors.Is(err, ErrRetryExhausted)
	if exhausted {
		o.logEvent(EventRetryExhausted, req, StatusFailure,
			zap.Int("attempts", attempts),
			zap.Error(err))
	}
	kind := Classify(err)
	o.logEvent(EventSendFailure, req, StatusFailure,
		zap.String("error_kind", string(kind)),
		zap.Bool("retryable", false),
		zap.Int("attempts", attempts),
		zap.Error(err))
	o.observer.CountOutcome(Outcome{
		Event: EventSendFailure, Job: req.Job, Platform: req.Platform,
		Channel: req.Channel, Status: StatusFailure, Reason: string(kind),
		At: finished,
	})
}

func (o *Orchestrator) logEvent(event string, req Request, status string, extra ...zap.Field) {
	fields := append([]zap.Field{
		zap.String("event", event),
		zap.String("job", req.Job),
		zap.String("platform", req.Platform),
		zap.String("channel", req.Channel),
		zap.String("correlation_id", req.CorrelationID),
		zap.String("status", status),
	}, extra...)
	o.log.Info(event, fields...)
}

// channelKey is the permit gate's per-channel key.
func channelKey(req Request) string {
	return req.Platform + ":" + req.Channel
}
