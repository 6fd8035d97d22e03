// Package propose asks the model for patches in two phases: free-text
// reasoning, then structuring into a fixes list that is decoded leniently
// and sanitized before anything leaves the package.
package propose

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"text/template"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/metalagman/buildmend/internal/config"
	"github.com/metalagman/buildmend/internal/diag"
	"github.com/metalagman/buildmend/internal/excerpt"
	"github.com/metalagman/buildmend/internal/llm"
	"github.com/metalagman/buildmend/internal/patch"
)

//go:embed prompts/*.gotmpl
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.gotmpl"))

// Failure names why a proposal produced no fixes.
type Failure string

const (
	FailureNone              Failure = ""
	FailureReasoningEmpty    Failure = "reasoning_empty"
	FailureReasoningError    Failure = "reasoning_error"
	FailureTimeout           Failure = "timeout"
	FailureStructuringError  Failure = "structuring_error"
	FailureDecode            Failure = "decode"
	FailureAllFixesDiscarded Failure = "all_fixes_discarded"
)

// Result is the outcome of one proposal round. It is returned even when the
// round failed; Fixes is then empty and Rationale says why.
type Result struct {
	Fixes     []patch.Patch `json:"fixes"`
	Rationale string        `json:"rationale"`
	Failure   Failure       `json:"failure,omitempty"`
	Decoder   string        `json:"decoder,omitempty"`
	Dropped   int           `json:"dropped,omitempty"`
}

// Options carries the sampling settings for both phases.
type Options struct {
	ReasoningTemperature   float64
	StructuringTemperature float64
	MaxOutputTokens        int
	Stop                   []string
}

// OptionsFromConfig maps model settings onto proposal options.
func OptionsFromConfig(cfg config.ModelConfig) Options {
	return Options{
		ReasoningTemperature:   cfg.ReasoningTemperature,
		StructuringTemperature: cfg.StructuringTemperature,
		MaxOutputTokens:        cfg.MaxOutputTokens,
		Stop:                   cfg.Stop,
	}
}

// Service runs proposal rounds against a completer.
type Service struct {
	model  llm.Completer
	opts   Options
	logger zerolog.Logger
}

// New returns a proposal service.
func New(model llm.Completer, opts Options) *Service {
	return &Service{
		model:  model,
		opts:   opts,
		logger: log.With().Str("component", "proposer").Logger(),
	}
}

type promptData struct {
	Diagnostic string
	Context    string
	Proposal   string
	File       string
	SkipMarker string
	Retry      bool
}

// Propose runs both phases for issue. It never returns an error.
func (s *Service) Propose(ctx context.Context, issue diag.Issue, sourceContext string) Result {
	data := promptData{
		Diagnostic: issue.Raw,
		Context:    sourceContext,
		File:       issue.File,
		SkipMarker: excerpt.SkipMarker,
	}

	reasoning, err := s.call(ctx, "reasoning.gotmpl", data, s.opts.ReasoningTemperature)
	if err != nil {
		failure := FailureReasoningError
		switch {
		case errors.Is(err, llm.ErrEmptyOutput):
			failure = FailureReasoningEmpty
		case errors.Is(err, context.DeadlineExceeded):
			failure = FailureTimeout
		}
		return s.failed(failure, fmt.Sprintf("reasoning failed: %v", err))
	}
	data.Proposal = reasoning

	var (
		fixes   []rawFix
		decoder string
		ok      bool
	)
	for attempt := 0; attempt < 2 && !ok; attempt++ {
		data.Retry = attempt > 0
		out, err := s.call(ctx, "structuring.gotmpl", data, s.opts.StructuringTemperature)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return s.failed(FailureTimeout, fmt.Sprintf("structuring failed: %v", err))
			}
			if !errors.Is(err, llm.ErrEmptyOutput) {
				return s.failed(FailureStructuringError, fmt.Sprintf("structuring failed: %v", err))
			}
			continue
		}
		fixes, decoder, ok = decodeFixes(out)
		if ok && len(fixes) == 0 {
			ok = false
		}
		if !ok {
			s.logger.Warn().Int("attempt", attempt+1).Msg("structuring output not decodable")
		}
	}
	if !ok {
		return s.failed(FailureDecode, "decode failed: model output held no usable fixes JSON after retry")
	}

	patches, dropped := sanitize(fixes, issue)
	res := Result{
		Fixes:     patches,
		Rationale: reasoning,
		Decoder:   decoder,
		Dropped:   dropped,
	}
	if len(patches) == 0 {
		res.Failure = FailureAllFixesDiscarded
	}
	s.logger.Info().
		Str("decoder", decoder).
		Int("fixes", len(patches)).
		Int("dropped", dropped).
		Msg("proposal decoded")
	return res
}

func (s *Service) call(ctx context.Context, tmpl string, data promptData, temperature float64) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, tmpl, data); err != nil {
		return "", fmt.Errorf("execute prompt template %q: %w", tmpl, err)
	}
	return s.model.Complete(ctx, llm.Request{
		Prompt:          buf.String(),
		Temperature:     temperature,
		MaxOutputTokens: s.opts.MaxOutputTokens,
		Stop:            s.opts.Stop,
	})
}

func (s *Service) failed(failure Failure, rationale string) Result {
	s.logger.Warn().Str("failure", string(failure)).Msg(rationale)
	return Result{Rationale: rationale, Failure: failure}
}
