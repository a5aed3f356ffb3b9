// Package pipeline answers questions from the cache when it can and from
// retrieval plus generation when it must, running at most one generation per
// question fingerprint at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"faq-rag/internal/cache"
	"faq-rag/internal/coalesce"
	"faq-rag/internal/config"
	"faq-rag/internal/fingerprint"
	"faq-rag/internal/llm"
	"faq-rag/internal/metrics"
	"faq-rag/internal/retriever"
	"faq-rag/internal/retry"
)

const (
	previewChars          = 200
	defaultCacheTimeout   = 5 * time.Second
	defaultFollowerMargin = 2 * time.Second

	// bypassKey keeps cache-bypassing requests from joining a leader that may
	// answer from the cache.
	bypassKey = "|bypass"
)

// Request is an inbound question.
type Request struct {
	Question    string
	SessionID   string
	BypassCache bool
	TopK        int
	ReceivedAt  time.Time
}

// Response is a finished answer with its provenance.
type Response struct {
	Answer        string
	Cached        bool
	NearDuplicate bool
	Similarity    float64
	Coalesced     bool
	PassageIDs    []string
	Fingerprint   string
	Latency       time.Duration
	Usage         llm.Usage
}

// Options tunes the pipeline.
type Options struct {
	TTL                 time.Duration
	NearDuplicate       bool
	SimilarityThreshold float64
	RetrievalTimeout    time.Duration
	RetrievalRetries    int
	GenerationTimeout   time.Duration
	GenerationRetries   int
	RetryBackoff        time.Duration
	CacheTimeout        time.Duration // per cache call on the leader path
	FollowerMargin      time.Duration
	// FollowerWait caps how long a follower waits for its leader. Zero derives
	// it from LeaderBudget plus FollowerMargin.
	FollowerWait time.Duration
}

// LeaderBudget is the longest a leader can run between admission and
// publishing its result: the cache re-check, every retrieval and generation
// attempt with the backoff between them, and the cache write.
func (o Options) LeaderBudget() time.Duration {
	retrieval := time.Duration(o.RetrievalRetries+1)*o.RetrievalTimeout +
		retry.Policy{Retries: o.RetrievalRetries, Base: o.RetryBackoff}.TotalBackoff()
	generation := time.Duration(o.GenerationRetries+1)*o.GenerationTimeout +
		retry.Policy{Retries: o.GenerationRetries, Base: o.RetryBackoff}.TotalBackoff()
	return 2*o.CacheTimeout + retrieval + generation
}

// OptionsFromConfig derives pipeline options from service configuration.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		TTL:                 cfg.CacheTTL,
		NearDuplicate:       cfg.NearDuplicate,
		SimilarityThreshold: cfg.SimilarityThreshold,
		RetrievalTimeout:    cfg.RetrievalTimeout,
		RetrievalRetries:    cfg.RetrievalRetries,
		GenerationTimeout:   cfg.GenerationTimeout,
		GenerationRetries:   cfg.GenerationRetries,
		RetryBackoff:        cfg.RetryBackoff,
		CacheTimeout:        cfg.CacheTimeout,
		FollowerMargin:      cfg.FollowerMargin,
	}
}

// answer is the result shared between a leader and its followers.
type answer struct {
	text       string
	passageIDs []string
	usage      llm.Usage
	cached     bool
}

// Service orchestrates fingerprinting, caching, coalescing, retrieval and
// generation. It is safe for concurrent use.
type Service struct {
	fingerprints *fingerprint.Engine
	cache        cache.Store
	retriever    retriever.Retriever
	generator    llm.Generator
	opts         Options
	log          *slog.Logger
	metrics      *metrics.Metrics

	inflight coalesce.Group[*answer]

	// epoch counts flushes. A leader only writes its answer back if no flush
	// happened since it was admitted; flushMu makes that check and the write
	// atomic with respect to Flush.
	flushMu sync.RWMutex
	epoch   atomic.Uint64
}

// NewService wires a pipeline. A nil cache disables caching; nil metrics
// disables instrumentation.
func NewService(fp *fingerprint.Engine, c cache.Store, r retriever.Retriever, g llm.Generator,
	opts Options, log *slog.Logger, m *metrics.Metrics) *Service {
	if c == nil {
		c = cache.NewNoOpStore()
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.CacheTimeout <= 0 {
		opts.CacheTimeout = defaultCacheTimeout
	}
	if opts.FollowerWait <= 0 {
		margin := opts.FollowerMargin
		if margin <= 0 {
			margin = defaultFollowerMargin
		}
		opts.FollowerWait = opts.LeaderBudget() + margin
	}
	return &Service{
		fingerprints: fp,
		cache:        c,
		retriever:    r,
		generator:    g,
		opts:         opts,
		log:          log,
		metrics:      m,
	}
}

// InFlight reports fingerprints currently being generated.
func (s *Service) InFlight() int {
	return s.inflight.InFlight()
}

// FollowerWait is the effective bound on a coalesced follower's wait.
func (s *Service) FollowerWait() time.Duration {
	return s.opts.FollowerWait
}

// Flush empties the cache. Answers still being generated when Flush runs are
// returned to their callers but not written back.
func (s *Service) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	s.epoch.Add(1)
	return s.cache.Flush(ctx)
}

// Ask answers a question. Errors carry the sentinel of their Kind.
func (s *Service) Ask(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	log := s.log.With("request_id", uuid.NewString())
	if req.SessionID != "" {
		log = log.With("session_id", req.SessionID)
	}
	log.Debug("pipeline state", "state", "RECEIVED")

	resp, outcome, err := s.ask(ctx, log, req)
	elapsed := time.Since(start)
	if err != nil {
		s.metrics.Observe(metrics.OutcomeFailed, elapsed)
		log.Debug("pipeline state", "state", "FAILED", "kind", Classify(err), "err", err)
		return nil, err
	}
	resp.Latency = elapsed
	s.metrics.Observe(outcome, elapsed)
	log.Debug("pipeline state", "state", "DONE", "outcome", outcome, "latency_ms", elapsed.Milliseconds())
	return resp, nil
}

func (s *Service) ask(ctx context.Context, log *slog.Logger, req Request) (*Response, string, error) {
	fp, err := s.fingerprints.Fingerprint(req.Question)
	if err != nil {
		return nil, "", err
	}
	log = log.With("fingerprint", fp.Hash)
	log.Debug("pipeline state", "state", "FINGERPRINTED")

	if !req.BypassCache {
		log.Debug("pipeline state", "state", "CACHE_CHECK")
		if resp, outcome := s.lookup(ctx, log, fp); resp != nil {
			return resp, outcome, nil
		}
	}

	key := fp.Hash
	if req.BypassCache {
		key += bypassKey
	}

	for readmitted := false; ; readmitted = true {
		log.Debug("pipeline state", "state", "COALESCE_ADMIT")
		call, leader := s.inflight.Admit(key)
		s.metrics.SetInFlight(s.inflight.InFlight())

		if leader {
			epoch := s.epoch.Load()
			ans, err := s.inflight.Run(ctx, key, call, func(ctx context.Context) (*answer, error) {
				return s.produce(ctx, log, req, fp, epoch)
			})
			s.metrics.SetInFlight(s.inflight.InFlight())
			if err != nil {
				return nil, "", err
			}
			outcome := metrics.OutcomeGenerated
			if ans.cached {
				outcome = metrics.OutcomeCacheHit
			}
			return ans.response(fp, false), outcome, nil
		}

		log.Debug("pipeline state", "state", "AWAIT_RESULT")
		ans, err := s.await(ctx, call)
		if err == nil {
			return ans.response(fp, true), metrics.OutcomeCoalesced, nil
		}
		if readmitted || !errors.Is(err, coalesce.ErrLeaderCanceled) || ctx.Err() != nil {
			return nil, "", err
		}
		// The leader went away; take one more turn, checking the cache first in
		// case another leader finished in the meantime.
		log.Debug("leader canceled, re-admitting", "err", err)
		if !req.BypassCache {
			if resp, outcome := s.lookup(ctx, log, fp); resp != nil {
				return resp, outcome, nil
			}
		}
	}
}

func (a *answer) response(fp fingerprint.Fingerprint, coalesced bool) *Response {
	return &Response{
		Answer:      a.text,
		Cached:      a.cached,
		Coalesced:   coalesced,
		PassageIDs:  append([]string(nil), a.passageIDs...),
		Fingerprint: fp.Hash,
		Usage:       a.usage,
	}
}

func (s *Service) await(ctx context.Context, call *coalesce.Call[*answer]) (*answer, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.opts.FollowerWait)
	defer cancel()

	ans, err := call.Wait(waitCtx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) && waitCtx.Err() != nil {
		return nil, fmt.Errorf("%w: leader did not finish within %s", coalesce.ErrCoalescing, s.opts.FollowerWait)
	}
	return ans, err
}

// lookup serves a live cache entry, exact first and then near-duplicate.
// Cache failures are logged and treated as a miss.
func (s *Service) lookup(ctx context.Context, log *slog.Logger, fp fingerprint.Fingerprint) (*Response, string) {
	if e := s.getExact(ctx, log, fp.Hash); e != nil {
		log.Debug("pipeline state", "state", "CACHE_HIT", "hits", e.HitCount)
		return entryResponse(e, fp), metrics.OutcomeCacheHit
	}
	if !s.opts.NearDuplicate || len(fp.Signature.Tokens) == 0 {
		return nil, ""
	}

	e, score, err := s.cache.GetNearDuplicate(ctx, fp.Signature, s.opts.SimilarityThreshold)
	if err != nil {
		s.metrics.CacheError("near_duplicate")
		log.Warn("cache near-duplicate lookup failed, continuing without cache", "err", err)
		return nil, ""
	}
	if e == nil {
		log.Debug("pipeline state", "state", "CACHE_MISS")
		return nil, ""
	}
	log.Debug("pipeline state", "state", "CACHE_HIT", "near_duplicate_of", e.Hash, "similarity", score)
	resp := entryResponse(e, fp)
	resp.NearDuplicate = true
	resp.Similarity = score
	return resp, metrics.OutcomeNearHit
}

func (s *Service) getExact(ctx context.Context, log *slog.Logger, hash string) *cache.Entry {
	e, err := s.cache.Get(ctx, hash)
	if err != nil {
		s.metrics.CacheError("get")
		log.Warn("cache lookup failed, continuing without cache", "err", err)
		return nil
	}
	return e
}

func entryResponse(e *cache.Entry, fp fingerprint.Fingerprint) *Response {
	ids := make([]string, len(e.Sources))
	for i, src := range e.Sources {
		ids[i] = src.PassageID
	}
	return &Response{
		Answer:      e.Answer,
		Cached:      true,
		PassageIDs:  ids,
		Fingerprint: fp.Hash,
		Usage:       llm.Usage{PromptTokens: e.Usage.PromptTokens, CompletionTokens: e.Usage.CompletionTokens},
	}
}

// produce is the leader's path: re-check, retrieve, generate, write. epoch is
// the flush count observed when the leader was admitted.
func (s *Service) produce(ctx context.Context, log *slog.Logger, req Request, fp fingerprint.Fingerprint, epoch uint64) (*answer, error) {
	if !req.BypassCache {
		log.Debug("pipeline state", "state", "CACHE_RECHECK")
		checkCtx, cancel := withTimeout(ctx, s.opts.CacheTimeout)
		e := s.getExact(checkCtx, log, fp.Hash)
		cancel()
		if e != nil {
			resp := entryResponse(e, fp)
			return &answer{text: resp.Answer, passageIDs: resp.PassageIDs, usage: resp.Usage, cached: true}, nil
		}
	}

	log.Debug("pipeline state", "state", "RETRIEVE")
	result, err := s.retrieve(ctx, req.Question, req.TopK)
	if err != nil {
		log.Error("retrieval failed", "kind", Classify(err), "err", err)
		return nil, err
	}

	log.Debug("pipeline state", "state", "GENERATE", "passages", len(result.Passages))
	gen, err := s.generate(ctx, req.Question, result.Passages)
	if err != nil {
		log.Error("generation failed", "kind", Classify(err), "err", err)
		return nil, err
	}

	log.Debug("pipeline state", "state", "CACHE_WRITE")
	s.write(ctx, log, req, fp, epoch, result, gen)

	return &answer{text: gen.Answer, passageIDs: result.IDs(), usage: gen.Usage}, nil
}

func (s *Service) retrieve(ctx context.Context, question string, topK int) (retriever.Result, error) {
	var result retriever.Result
	policy := retry.Policy{
		Retries: s.opts.RetrievalRetries,
		Base:    s.opts.RetryBackoff,
		Retryable: func(err error) bool {
			return Classify(err).Retryable()
		},
	}
	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		attemptCtx, cancel := withTimeout(ctx, s.opts.RetrievalTimeout)
		defer cancel()

		r, err := s.retriever.Retrieve(attemptCtx, question, topK)
		s.metrics.Retrieval(resultLabel(err))
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

func (s *Service) generate(ctx context.Context, question string, passages []retriever.Passage) (llm.Generation, error) {
	var gen llm.Generation
	policy := retry.Policy{
		Retries: s.opts.GenerationRetries,
		Base:    s.opts.RetryBackoff,
		Retryable: func(err error) bool {
			return Classify(err).Retryable()
		},
	}
	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		attemptCtx, cancel := withTimeout(ctx, s.opts.GenerationTimeout)
		defer cancel()

		g, err := s.generator.Generate(attemptCtx, question, passages)
		s.metrics.Generation(resultLabel(err))
		if err != nil {
			return err
		}
		gen = g
		return nil
	})
	return gen, err
}

// write stores the generated answer unless the cache was flushed after the
// leader was admitted. Failures never fail the request.
func (s *Service) write(ctx context.Context, log *slog.Logger, req Request, fp fingerprint.Fingerprint, epoch uint64, result retriever.Result, gen llm.Generation) {
	sources := make([]cache.Source, len(result.Passages))
	for i, p := range result.Passages {
		sources[i] = cache.Source{PassageID: p.ID, SourceID: p.SourceID, Score: p.Score, Preview: preview(p.Text)}
	}
	entry := &cache.Entry{
		Hash:      fp.Hash,
		Question:  req.Question,
		Signature: fp.Signature,
		Answer:    gen.Answer,
		Sources:   sources,
		Usage:     cache.Usage{PromptTokens: gen.Usage.PromptTokens, CompletionTokens: gen.Usage.CompletionTokens},
	}

	s.flushMu.RLock()
	defer s.flushMu.RUnlock()
	if s.epoch.Load() != epoch {
		log.Debug("cache flushed during generation, skipping write")
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.CacheTimeout)
	defer cancel()
	if err := s.cache.Put(writeCtx, entry, s.opts.TTL); err != nil {
		s.metrics.CacheError("put")
		log.Warn("cache write failed", "err", err)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(Classify(err))
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewChars {
		return text
	}
	return string([]rune(text)[:previewChars]) + "..."
}
