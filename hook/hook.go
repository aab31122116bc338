// Package hook defines the evaluation hooks invoked around every flag
// evaluation, and the hook that forwards experiment evaluations to a
// delivery stream.
package hook

import (
	"context"

	"github.com/configcat/configcat-experiment-hook/log"
	"github.com/configcat/configcat-experiment-hook/model"
)

type Metadata struct {
	Name string
}

// SeriesContext describes the evaluation a hook series runs for.
type SeriesContext struct {
	FlagKey      string
	Context      model.EvaluationContext
	DefaultValue interface{}
}

// SeriesData is passed from one stage of a hook to the next. It can't be
// modified in place, With returns a new copy.
type SeriesData struct {
	values map[string]interface{}
}

func NewSeriesData() SeriesData {
	return SeriesData{}
}

func (d SeriesData) Get(key string) (interface{}, bool) {
	v, ok := d.values[key]
	return v, ok
}

func (d SeriesData) With(key string, value interface{}) SeriesData {
	values := make(map[string]interface{}, len(d.values)+1)
	for k, v := range d.values {
		values[k] = v
	}
	values[key] = value
	return SeriesData{values: values}
}

func (d SeriesData) Len() int {
	return len(d.values)
}

// Hook is invoked by the evaluation engine around each flag evaluation.
// Both stages return the data handed to the next stage.
type Hook interface {
	Metadata() Metadata
	BeforeEvaluation(ctx context.Context, series SeriesContext, data SeriesData) SeriesData
	AfterEvaluation(ctx context.Context, series SeriesContext, data SeriesData, result model.EvaluationResult) SeriesData
}

// Series runs a list of hooks for one evaluation. Before stages run in
// registration order, after stages in reverse order. A failing hook is
// logged and keeps the data it received.
type Series struct {
	hooks   []Hook
	context SeriesContext
	data    []SeriesData
	log     log.Logger
}

func NewSeries(hooks []Hook, series SeriesContext, log log.Logger) *Series {
	return &Series{
		hooks:   hooks,
		context: series,
		data:    make([]SeriesData, len(hooks)),
		log:     log,
	}
}

func (s *Series) Before(ctx context.Context) {
	for i, h := range s.hooks {
		s.data[i] = s.run(h, "beforeEvaluation", s.data[i], func() SeriesData {
			return h.BeforeEvaluation(ctx, s.context, s.data[i])
		})
	}
}

func (s *Series) After(ctx context.Context, result model.EvaluationResult) {
	for i := len(s.hooks) - 1; i >= 0; i-- {
		h := s.hooks[i]
		s.data[i] = s.run(h, "afterEvaluation", s.data[i], func() SeriesData {
			return h.AfterEvaluation(ctx, s.context, s.data[i], result)
		})
	}
}

// Data returns the data of the hook at index i after the last stage.
func (s *Series) Data(i int) SeriesData {
	return s.data[i]
}

func (s *Series) run(h Hook, stage string, in SeriesData, f func() SeriesData) (out SeriesData) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("%s stage of hook '%s' failed for '%s': %v", stage, h.Metadata().Name, s.context.FlagKey, r)
			out = in
		}
	}()
	return f()
}
