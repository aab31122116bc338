package hook

import (
	"context"

	"github.com/configcat/configcat-experiment-hook/diag/telemetry"
	"github.com/configcat/configcat-experiment-hook/log"
	"github.com/configcat/configcat-experiment-hook/model"
	"github.com/configcat/configcat-experiment-hook/shaper"
)

const ExperimentHookName = "experiment-delivery"

// Sender delivers a single event record.
type Sender interface {
	SendOne(ctx context.Context, record model.EventRecord) bool
}

// ExperimentHook forwards the evaluations that are part of an experiment to
// a delivery stream. It never changes the outcome of an evaluation.
type ExperimentHook struct {
	sender            Sender
	shaper            *shaper.Shaper
	telemetryReporter telemetry.Reporter
	log               log.Logger
}

type Option func(*ExperimentHook)

func WithShaper(s *shaper.Shaper) Option {
	return func(h *ExperimentHook) {
		h.shaper = s
	}
}

func WithTelemetryReporter(reporter telemetry.Reporter) Option {
	return func(h *ExperimentHook) {
		if reporter != nil {
			h.telemetryReporter = reporter
		}
	}
}

// NewExperimentHook creates the hook. A nil sender means delivery isn't
// available, evaluations are only logged then.
func NewExperimentHook(sender Sender, log log.Logger, opts ...Option) *ExperimentHook {
	h := &ExperimentHook{
		sender:            sender,
		shaper:            shaper.New(),
		telemetryReporter: telemetry.NewEmptyReporter(),
		log:               log.WithPrefix("hook"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *ExperimentHook) Metadata() Metadata {
	return Metadata{Name: ExperimentHookName}
}

func (h *ExperimentHook) BeforeEvaluation(_ context.Context, _ SeriesContext, data SeriesData) SeriesData {
	return data
}

func (h *ExperimentHook) AfterEvaluation(ctx context.Context, series SeriesContext, data SeriesData, result model.EvaluationResult) SeriesData {
	inExperiment := result.InExperiment()
	h.telemetryReporter.IncrementEvaluation(series.FlagKey, inExperiment)
	if kind := result.ReasonKind(); kind != nil && *kind == model.ReasonError {
		h.log.Infof("evaluation of '%s' failed, default value '%v' served", series.FlagKey, series.DefaultValue)
		return data
	}
	if !inExperiment {
		h.log.Infof("evaluation of '%s' is not in an experiment", series.FlagKey)
		return data
	}
	if h.sender == nil {
		h.log.Warnf("delivery is not available, skipping experiment event of '%s'", series.FlagKey)
		return data
	}
	record, ctxData := h.shaper.ShapeWithContext(series.FlagKey, series.Context, result)
	if ctxData.Variant == shaper.NameOnlyContext {
		h.log.Warnf("couldn't convert the evaluation context of '%s', sending name only: %s", series.FlagKey, ctxData.Err)
	}
	for _, name := range ctxData.Dropped {
		h.log.Debugf("attribute '%s' of the evaluation context isn't JSON serializable, dropped", name)
	}
	if h.sender.SendOne(ctx, record) {
		h.log.Infof("experiment event of '%s' sent", series.FlagKey)
	} else {
		h.log.Warnf("experiment event of '%s' couldn't be sent", series.FlagKey)
	}
	return data
}
