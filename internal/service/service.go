// Package service wraps the copyedit pipeline with the concerns shared by all
// front ends: input normalisation, rate limiting, result caching and
// deduplication of identical concurrent requests.
//
// A request flows through these steps:
//
//  1. The caller's client key is checked against the [Limiter].
//  2. The text is normalised and fingerprinted together with the mode and the
//     provider name.
//  3. A cached result for the fingerprint is returned immediately.
//  4. Otherwise the request joins the in-flight run for the fingerprint, or
//     starts one. The run re-checks the cache, executes the pipeline on a
//     context detached from any single caller and stores the result.
//  5. Each caller waits for the shared run with its own context.
//
// [Service] is safe for concurrent use.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"

	"github.com/MrWong99/copyedit/internal/cache"
	"github.com/MrWong99/copyedit/internal/observe"
	"github.com/MrWong99/copyedit/internal/pipeline"
	"github.com/MrWong99/copyedit/pkg/types"
)

// DefaultTimeout bounds a single pipeline run when no timeout is configured.
const DefaultTimeout = 60 * time.Second

// Processor runs the copyedit pipeline. [*pipeline.Pipeline] satisfies it.
type Processor interface {
	ProcessMode(ctx context.Context, text string, mode pipeline.Mode) (types.Result, error)
}

// Request is one copyedit call.
type Request struct {
	// Text is the paragraph to edit.
	Text string

	// Mode selects the pipeline stages. Empty means [pipeline.ModeFull].
	Mode pipeline.Mode

	// Client identifies the caller for rate limiting. Empty callers share one
	// bucket.
	Client string
}

// Response is the outcome of [Service.Copyedit].
type Response struct {
	types.Result

	// Cached reports that the result came from the cache.
	Cached bool

	// Shared reports that the result was computed for a concurrent identical
	// request.
	Shared bool
}

// Option is a functional option for configuring a [Service].
type Option func(*Service)

// WithCache sets the result cache. Without one, nothing is cached.
func WithCache(c cache.Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithLimiter sets the rate limiter. Without one, requests are not limited.
func WithLimiter(l Limiter) Option {
	return func(s *Service) {
		s.limiter = l
	}
}

// WithTimeout bounds each pipeline run. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithProviderName sets the provider name mixed into fingerprints, so that
// results from different models never share a cache entry.
func WithProviderName(name string) Option {
	return func(s *Service) {
		s.provider = name
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// Service is the request-level copyedit entry point.
type Service struct {
	proc     Processor
	cache    cache.Cache
	limiter  Limiter
	metrics  *observe.Metrics
	provider string
	timeout  time.Duration
	group    singleflight.Group
}

// New returns a [Service] running requests through proc.
func New(proc Processor, opts ...Option) *Service {
	s := &Service{
		proc:    proc,
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Normalize returns the text the pipeline actually processes: NFC form, CR
// and CRLF line breaks replaced by LF, leading and trailing whitespace
// removed. Offsets in a [Response] refer to this text.
func Normalize(text string) string {
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}

// Fingerprint returns the cache and deduplication key for an already
// normalised text.
func (s *Service) Fingerprint(text string, mode pipeline.Mode) string {
	h := sha256.New()
	h.Write([]byte(s.provider))
	h.Write([]byte{0})
	h.Write([]byte(mode))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// Copyedit processes req. Errors wrap the kinds in [types]; in addition
// [types.ErrRateLimited] is returned when the limiter rejects the caller.
func (s *Service) Copyedit(ctx context.Context, req Request) (Response, error) {
	mode := req.Mode
	if mode == "" {
		mode = pipeline.ModeFull
	}

	ctx, span := observe.StartSpan(ctx, "service.copyedit",
		trace.WithAttributes(attribute.String("mode", string(mode))))
	defer span.End()

	resp, err := s.copyedit(ctx, req.Client, Normalize(req.Text), mode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, types.ErrorKind(err))
		return Response{}, err
	}
	span.SetAttributes(
		attribute.Bool("cached", resp.Cached),
		attribute.Bool("shared", resp.Shared),
	)
	return resp, nil
}

func (s *Service) copyedit(ctx context.Context, client, text string, mode pipeline.Mode) (Response, error) {
	if s.limiter != nil && !s.limiter.Allow(client) {
		s.metrics.RateLimited.Add(ctx, 1)
		return Response{}, fmt.Errorf("service: %w: client %q", types.ErrRateLimited, client)
	}

	key := s.Fingerprint(text, mode)
	log := observe.Logger(ctx).With("key", key[:12], "mode", mode)

	if res, ok := s.lookup(ctx, key); ok {
		log.Debug("service: cache hit")
		return Response{Result: res, Cached: true}, nil
	}

	// The shared run must outlive any one caller; it inherits trace values
	// but not cancellation.
	runCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		return s.compute(runCtx, key, text, mode)
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return Response{}, r.Err
		}
		if r.Shared {
			s.metrics.SharedRuns.Add(ctx, 1)
		}
		resp := r.Val.(Response)
		resp.Result = cloneResult(resp.Result)
		resp.Shared = r.Shared
		return resp, nil
	case <-ctx.Done():
		err := ctx.Err()
		log.Debug("service: caller gave up waiting", "err", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return Response{}, fmt.Errorf("service: %w: %w", types.ErrTimeout, err)
		}
		return Response{}, fmt.Errorf("service: %w", err)
	}
}

// compute runs inside the singleflight critical path.
func (s *Service) compute(ctx context.Context, key, text string, mode pipeline.Mode) (Response, error) {
	// Another run may have finished between the caller's lookup and now.
	if res, ok := s.lookup(ctx, key); ok {
		return Response{Result: res, Cached: true}, nil
	}

	s.metrics.InflightRuns.Add(ctx, 1)
	defer s.metrics.InflightRuns.Add(ctx, -1)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.proc.ProcessMode(ctx, text, mode)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, types.ErrTimeout) {
			err = fmt.Errorf("service: %w: %w", types.ErrTimeout, err)
		}
		return Response{}, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, res); err != nil {
			observe.Logger(ctx).Warn("service: cache store failed", "err", err)
		}
	}
	return Response{Result: res}, nil
}

// lookup reads the cache. Cache failures are logged and treated as misses.
func (s *Service) lookup(ctx context.Context, key string) (types.Result, bool) {
	if s.cache == nil {
		return types.Result{}, false
	}
	res, ok, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		observe.Logger(ctx).Warn("service: cache lookup failed", "err", err)
		s.metrics.RecordCacheLookup(ctx, "error")
		return types.Result{}, false
	case ok:
		s.metrics.RecordCacheLookup(ctx, "hit")
		return res, true
	default:
		s.metrics.RecordCacheLookup(ctx, "miss")
		return types.Result{}, false
	}
}

// Ready reports whether the service can serve requests: the cache, when
// configured, must be reachable.
func (s *Service) Ready(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Ping(ctx); err != nil {
		return fmt.Errorf("service: cache: %w", err)
	}
	return nil
}

func cloneResult(r types.Result) types.Result {
	return types.Result{RevisedText: r.RevisedText, Changes: types.CloneChanges(r.Changes)}
}
