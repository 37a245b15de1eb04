package crisis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/lifeline/internal/embedcache"
	"github.com/linnemanlabs/lifeline/internal/embedding"
)

// Detection passes, used as metric labels.
const (
	PassLexical  = "lexical"
	PassSemantic = "semantic"
	PassNone     = "none"
)

const (
	DefaultThreshold    = 0.85
	DefaultEmbedTimeout = 5 * time.Second
)

// Result is the outcome of a single detection. Reason is empty iff IsCrisis is false.
type Result struct {
	IsCrisis bool
	Reason   string
}

// Hooks receives detector and service events, typically wired to Metrics.
// Nil funcs are skipped.
type Hooks struct {
	OnDetect          func(pass string, seconds float64)
	OnSemanticScore   func(score float64)
	OnEmbedFailure    func(stage string)
	OnReferencesReady func(count int)
	OnEscalate        func(source string)
}

// Options tunes the detector. Zero values select the defaults.
type Options struct {
	// Phrases is the semantic reference set; nil uses DefaultReferencePhrases.
	Phrases []string

	// Threshold is the similarity a chunk must strictly exceed.
	Threshold float64

	Window int
	Step   int

	// EmbedTimeout bounds each per-chunk provider call.
	EmbedTimeout time.Duration

	// Cache stores reference embeddings across restarts. Nil disables caching.
	Cache *embedcache.Cache

	Hooks Hooks
}

func (o Options) withDefaults() Options {
	if o.Phrases == nil {
		o.Phrases = DefaultReferencePhrases
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.Step <= 0 {
		o.Step = DefaultStep
	}
	o.Step = min(o.Step, o.Window)
	if o.EmbedTimeout <= 0 {
		o.EmbedTimeout = DefaultEmbedTimeout
	}
	o.Phrases = append([]string(nil), o.Phrases...)
	return o
}

// references is an immutable snapshot of the reference vectors.
type references struct {
	phrases []string
	vectors [][]float32
	norms   []float64
}

func newReferences(phrases []string, vectors [][]float32) *references {
	r := &references{
		phrases: append([]string(nil), phrases...),
		vectors: make([][]float32, len(vectors)),
		norms:   make([]float64, len(vectors)),
	}
	for i, v := range vectors {
		r.vectors[i] = append([]float32(nil), v...)
		r.norms[i] = magnitude(v)
	}
	return r
}

// Detector classifies text as crisis or not. It is safe for concurrent use.
type Detector struct {
	embedder embedding.Provider
	logger   log.Logger
	opts     Options

	refs atomic.Pointer[references]

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewDetector returns a Detector. With a nil embedder the detector is
// lexical-only. Otherwise reference embeddings are loaded or generated on a
// background goroutine; until they are ready Detect runs the lexical pass only.
// Call Close to stop preparation if it is still running.
func NewDetector(embedder embedding.Provider, logger log.Logger, opts Options) *Detector {
	if logger == nil {
		logger = log.Nop()
	}
	d := &Detector{
		embedder: embedder,
		logger:   logger,
		opts:     opts.withDefaults(),
		done:     make(chan struct{}),
	}

	if embedder == nil {
		d.cancel = func() {}
		close(d.done)
		logger.Warn(context.Background(), "no embedding provider configured, semantic detection disabled")
		return d
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	go d.prepare(ctx)
	return d
}

// Close stops background preparation and waits for it to exit.
func (d *Detector) Close() {
	d.closeOnce.Do(d.cancel)
	<-d.done
}

func (d *Detector) prepare(ctx context.Context) {
	defer close(d.done)

	provider := d.embedder.Name()
	L := d.logger.With("provider", provider, "phrases", len(d.opts.Phrases))
	L.Info(ctx, "preparing reference embeddings")

	if e, ok := d.opts.Cache.Load(ctx, provider, d.opts.Phrases); ok {
		d.publish(ctx, e.Phrases, e.Embeddings)
		return
	}

	vecs, err := d.embedder.EmbedBatch(ctx, d.opts.Phrases)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		d.embedFailure("reference")
		L.Error(ctx, err, "failed to embed reference phrases, continuing lexical-only")
		return
	}
	if len(vecs) != len(d.opts.Phrases) {
		d.embedFailure("reference")
		L.Error(ctx, fmt.Errorf("crisis: got %d embeddings for %d phrases", len(vecs), len(d.opts.Phrases)),
			"reference embedding count mismatch, continuing lexical-only")
		return
	}

	d.publish(ctx, d.opts.Phrases, vecs)
	d.opts.Cache.Save(ctx, &embedcache.Entry{Provider: provider, Phrases: d.opts.Phrases, Embeddings: vecs})
}

func (d *Detector) publish(ctx context.Context, phrases []string, vecs [][]float32) {
	d.refs.Store(newReferences(phrases, vecs))
	if d.opts.Hooks.OnReferencesReady != nil {
		d.opts.Hooks.OnReferencesReady(len(vecs))
	}
	d.logger.Info(ctx, "reference embeddings ready", "count", len(vecs))
}

// Detect classifies text. It never returns an error and never panics; any
// failure during the semantic pass is treated as "no crisis".
func (d *Detector) Detect(ctx context.Context, text string) Result {
	start := time.Now()

	if idx := matchLexical(text); idx >= 0 {
		d.logger.Warn(ctx, "lexical crisis match", "pattern_index", idx, "text_len", len(text))
		d.observe(PassLexical, start)
		return Result{IsCrisis: true, Reason: ReasonLexical}
	}

	refs := d.refs.Load()
	if d.embedder == nil || refs == nil || len(refs.vectors) == 0 || strings.TrimSpace(text) == "" {
		d.observe(PassNone, start)
		return Result{}
	}

	res := d.semantic(ctx, text, refs)
	if res.IsCrisis {
		d.observe(PassSemantic, start)
	} else {
		d.observe(PassNone, start)
	}
	return res
}

func matchLexical(text string) int {
	lower := strings.ToLower(text)
	for i, re := range lexicalRegexps {
		if re.MatchString(lower) {
			return i
		}
	}
	return -1
}

func (d *Detector) semantic(ctx context.Context, text string, refs *references) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error(ctx, fmt.Errorf("crisis: semantic pass panic: %v", r), "semantic detection failed, treating as non-crisis")
			res = Result{}
		}
	}()

	var (
		best       float64
		bestPhrase string
		found      bool
	)

	chunks := Chunk(text, d.opts.Window, d.opts.Step)
	for i, chunk := range chunks {
		if ctx.Err() != nil {
			break
		}
		vec, err := d.embedChunk(ctx, chunk)
		if err != nil {
			d.embedFailure("chunk")
			d.logger.Warn(ctx, "chunk embedding failed, skipping", "chunk", i, "chunks", len(chunks), "error", err)
			continue
		}
		qn := magnitude(vec)
		for j, ref := range refs.vectors {
			s, ok := cosineWithNorms(vec, qn, ref, refs.norms[j])
			if !ok {
				continue
			}
			if !found || s > best {
				best, bestPhrase, found = s, refs.phrases[j], true
			}
		}
	}

	if !found {
		return Result{}
	}
	if d.opts.Hooks.OnSemanticScore != nil {
		d.opts.Hooks.OnSemanticScore(best)
	}
	if best > d.opts.Threshold {
		d.logger.Warn(ctx, "semantic crisis match",
			"score", best,
			"threshold", d.opts.Threshold,
			"reference", bestPhrase,
			"chunks", len(chunks),
		)
		return Result{IsCrisis: true, Reason: ReasonSemantic}
	}
	return Result{}
}

func (d *Detector) embedChunk(ctx context.Context, chunk string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.EmbedTimeout)
	defer cancel()
	return d.embedder.Embed(ctx, chunk)
}

func (d *Detector) observe(pass string, start time.Time) {
	if d.opts.Hooks.OnDetect != nil {
		d.opts.Hooks.OnDetect(pass, time.Since(start).Seconds())
	}
}

func (d *Detector) embedFailure(stage string) {
	if d.opts.Hooks.OnEmbedFailure != nil {
		d.opts.Hooks.OnEmbedFailure(stage)
	}
}
