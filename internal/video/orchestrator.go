// Package video drives one generation job end to end: admission through the
// concurrency gate, prompt compilation, the upstream start call with
// field-drop recovery, and polling until the clip is ready.
package video

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"server/internal/gate"
	"server/internal/httpx"
	"server/internal/providers/prompt"
	"server/internal/providers/veo"
)

const maxImageBytes = 8 << 20

// recoveryBudget bounds how many rebuilt payloads follow the first start
// attempt. Every rebuild changes the payload, so the loop can never resend a
// request the upstream already rejected.
const recoveryBudget = 2

// Request is one generation job as the HTTP layer hands it over.
type Request struct {
	ImageBytes    []byte
	ImageMIME     string
	UserDirective string
	PageLabel     string
	AspectRatio   string
	Resolution    string
	Fast          bool
}

// Result is the outcome of a finished job.
type Result struct {
	VideoURI      string
	OperationName string
	Model         string
	Prompt        string
	Resolution    string
	Seed          int64
	AttachMode    veo.AttachMode
	DroppedFields []string
}

// ValidationError rejects a request before any upstream call is made.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// UnsupportedError means the upstream refused the request in a way no
// automatic downgrade can fix, for example rejecting the image in both
// attachment modes.
type UnsupportedError struct {
	Field   string
	Message string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("model does not support %s: %s", e.Field, e.Message)
}

// PromptCompiler is the slice of the prompt package the orchestrator needs.
type PromptCompiler interface {
	Compile(ctx context.Context, in prompt.Input) string
}

// Options wires an Orchestrator.
type Options struct {
	Gate         *gate.Gate
	Caller       veo.Caller
	Poller       *veo.Poller
	Compiler     PromptCompiler
	Model        string
	FastModel    string
	AttachMode   veo.AttachMode
	RequireImage bool
	// StorageURI routes output to a bucket in cloud-auth mode; empty for the
	// API-key provider.
	StorageURI string
	Logger     zerolog.Logger
}

// Orchestrator runs generation jobs. It is safe for concurrent use; the gate
// bounds how many jobs talk to the upstream at once.
type Orchestrator struct {
	gate         *gate.Gate
	caller       veo.Caller
	poller       *veo.Poller
	compiler     PromptCompiler
	model        string
	fastModel    string
	attachMode   veo.AttachMode
	requireImage bool
	storageURI   string
	logger       zerolog.Logger
}

// NewOrchestrator constructs the job runner.
func NewOrchestrator(opts Options) *Orchestrator {
	mode := opts.AttachMode
	if mode == "" {
		mode = veo.ModeFirstFrame
	}
	return &Orchestrator{
		gate:         opts.Gate,
		caller:       opts.Caller,
		poller:       opts.Poller,
		compiler:     opts.Compiler,
		model:        opts.Model,
		fastModel:    opts.FastModel,
		attachMode:   mode,
		requireImage: opts.RequireImage,
		storageURI:   opts.StorageURI,
		logger:       opts.Logger.With().Str("component", "video").Logger(),
	}
}

// Generate runs one job to completion. It blocks for the whole lifetime of
// the upstream operation; cancellation of ctx abandons the job at the next
// state boundary.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Result, error) {
	log := o.logger.With().Str("page", req.PageLabel).Logger()
	log.Info().Str("state", "validating").Msg("video: job accepted")

	if err := o.validate(req); err != nil {
		return nil, err
	}

	log.Info().Str("state", "queued").Int("in_flight", o.gate.InFlight()).Msg("video: waiting for slot")
	if err := o.gate.Acquire(ctx); err != nil {
		log.Info().Str("state", "canceled").Msg("video: caller left the queue")
		return nil, err
	}
	defer o.gate.Release()

	log.Info().Str("state", "building_prompt").Msg("video: compiling prompt")
	compiled := o.compiler.Compile(ctx, prompt.Input{
		ImageBytes:    req.ImageBytes,
		ImageMIME:     req.ImageMIME,
		UserDirective: req.UserDirective,
		PageLabel:     req.PageLabel,
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model := o.model
	if req.Fast && o.fastModel != "" {
		model = o.fastModel
	}

	intent := veo.Intent{
		Prompt:      compiled,
		ImageBytes:  req.ImageBytes,
		ImageMIME:   req.ImageMIME,
		AspectRatio: req.AspectRatio,
		Resolution:  req.Resolution,
		Seed:        DeriveSeed(compiled, req.ImageBytes, req.PageLabel),
	}

	opName, mode, dropped, err := o.start(ctx, log, model, intent)
	if err != nil {
		return nil, err
	}

	log.Info().Str("state", "polling").Str("operation", opName).Msg("video: awaiting completion")
	op, err := o.poller.Await(ctx, opName, o.caller.Poll)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Info().Str("state", "canceled").Str("operation", opName).Msg("video: job abandoned")
		} else {
			log.Error().Err(err).Str("state", "failed").Str("operation", opName).Msg("video: generation failed")
		}
		return nil, err
	}
	if op.VideoURI == "" {
		log.Error().Str("state", "failed").Str("operation", opName).Msg("video: operation finished without a video")
		return nil, &veo.OperationError{Message: "operation completed but returned no video"}
	}

	res := &Result{
		VideoURI:      op.VideoURI,
		OperationName: opName,
		Model:         model,
		Prompt:        compiled,
		Resolution:    effectiveResolution(intent.Resolution, dropped),
		Seed:          intent.Seed,
		AttachMode:    mode,
		DroppedFields: sortedKeys(dropped),
	}
	log.Info().Str("state", "ready").Str("operation", opName).Msg("video: clip ready")
	return res, nil
}

func (o *Orchestrator) validate(req Request) error {
	hasImage := len(req.ImageBytes) > 0
	if o.requireImage && !hasImage {
		return &ValidationError{Reason: "a page image is required"}
	}
	if !hasImage && strings.TrimSpace(req.UserDirective) == "" {
		return &ValidationError{Reason: "request needs a page image or a text directive"}
	}
	if hasImage {
		if len(req.ImageBytes) > maxImageBytes {
			return &ValidationError{Reason: fmt.Sprintf("image exceeds the %dMB limit", maxImageBytes>>20)}
		}
		if !strings.HasPrefix(req.ImageMIME, "image/") {
			return &ValidationError{Reason: fmt.Sprintf("unsupported image type %q", req.ImageMIME)}
		}
	}
	return nil
}

// start issues the predictLongRunning call, downgrading the payload on
// field-not-supported rejections. An image rejection flips the attachment
// mode once; any other named field is dropped. The loop stops when the
// recovery budget is spent or a rejection cannot change the payload.
func (o *Orchestrator) start(ctx context.Context, log zerolog.Logger, model string, intent veo.Intent) (string, veo.AttachMode, map[string]bool, error) {
	mode := o.attachMode
	dropped := map[string]bool{}
	triedAlternate := false

	for attempt := 0; ; attempt++ {
		state := "calling_upstream"
		if attempt > 0 {
			state = "retrying_upstream"
		}
		log.Info().Str("state", state).Str("model", model).Str("attach_mode", string(mode)).
			Int("attempt", attempt+1).Msg("video: starting upstream operation")

		payload := veo.BuildPayload(intent, mode, dropped, o.storageURI)
		opName, err := o.caller.Start(ctx, model, payload)
		if err == nil {
			return opName, mode, dropped, nil
		}
		if ctx.Err() != nil {
			return "", mode, dropped, ctx.Err()
		}
		if !httpx.IsStatus(err, http.StatusBadRequest) {
			return "", mode, dropped, err
		}

		msg := veo.UpstreamMessage(err)
		field, ok := veo.ClassifyRejection(msg)
		if !ok || attempt >= recoveryBudget {
			return "", mode, dropped, err
		}

		if veo.IsImageField(field) {
			if triedAlternate || len(intent.ImageBytes) == 0 {
				return "", mode, dropped, &UnsupportedError{Field: field, Message: msg}
			}
			triedAlternate = true
			mode = mode.Alternate()
			log.Warn().Str("field", field).Str("attach_mode", string(mode)).
				Msg("video: image placement rejected, switching attachment mode")
			continue
		}

		if dropped[field] {
			// Dropping again would resend the identical payload.
			return "", mode, dropped, &UnsupportedError{Field: field, Message: msg}
		}
		dropped[field] = true
		log.Warn().Str("field", field).Msg("video: upstream rejected field, retrying without it")
	}
}

func effectiveResolution(requested string, dropped map[string]bool) string {
	if dropped[veo.FieldResolution] {
		return ""
	}
	if requested == "" {
		return "720p"
	}
	return requested
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
