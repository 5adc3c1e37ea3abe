// Package orchestrator implements Orchestrator (C10, §4.10): the six-step
// workflow that turns a source control key into a ranked, reasoned list of
// target candidates.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ctrlmap/mapper/internal/cache"
	"github.com/ctrlmap/mapper/internal/common"
	"github.com/ctrlmap/mapper/internal/interfaces"
	"github.com/ctrlmap/mapper/internal/keycodec"
	"github.com/ctrlmap/mapper/internal/models"
	"github.com/ctrlmap/mapper/internal/pipelineerr"
)

// Config carries the tunables of §6's configuration table that bear on
// workflow behavior.
type Config struct {
	ModelVersion         string
	EnrichmentVersion    string
	TopK                 int
	RerankMin            float64
	ReasoningConcurrency int
	EmbedBatchSize       int
	WorkflowBudget       time.Duration
}

// DefaultConfig matches §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		ModelVersion:         "v1",
		EnrichmentVersion:    "v1",
		TopK:                 20,
		RerankMin:            0.5,
		ReasoningConcurrency: 5,
		EmbedBatchSize:       32,
		WorkflowBudget:       540 * time.Second,
	}
}

// Orchestrator wires the collaborators a workflow run needs. It holds no
// per-run state; everything about a run lives on the stack of Run.
type Orchestrator struct {
	catalog    interfaces.ControlCatalog
	enrichment interfaces.EnrichmentCache
	embeddings interfaces.EmbeddingCache
	science    interfaces.ScienceClient
	agent      interfaces.AgentClient
	jobs       interfaces.JobStore
	cfg        Config
	logger     *common.Logger
}

// New builds an Orchestrator.
func New(catalog interfaces.ControlCatalog, enrichment interfaces.EnrichmentCache, embeddings interfaces.EmbeddingCache, science interfaces.ScienceClient, agent interfaces.AgentClient, jobs interfaces.JobStore, cfg Config, logger *common.Logger) *Orchestrator {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Orchestrator{catalog: catalog, enrichment: enrichment, embeddings: embeddings, science: science, agent: agent, jobs: jobs, cfg: cfg, logger: logger}
}

// Run executes the full S1-S6 workflow for jobId and writes its single
// terminal state. It never returns an error to the caller on a workflow
// failure — that path is absorbed into markFailed, and a run that outlives
// cfg.WorkflowBudget fails as WorkflowTimeout. A Conflict on the terminal
// write (another run already wrote it) is absorbed as well; only other
// errors from the JobStore's terminal write are returned, and the worker
// then leaves the message unacked.
func (o *Orchestrator) Run(ctx context.Context, jobID string, msg models.QueueMessage) error {
	runCtx, cancel := context.WithTimeout(ctx, o.cfg.WorkflowBudget)
	defer cancel()

	mappings, err := o.runSteps(runCtx, jobID, msg)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", pipelineerr.ErrWorkflowTimeout, err)
		}
		message := pipelineerr.UserMessage(err)
		o.logger.Warn().Err(err).Str("jobId", jobID).Str("errorMessage", message).Msg("workflow failed")
		if markErr := o.jobs.MarkFailed(ctx, jobID, message); markErr != nil && !errors.Is(markErr, pipelineerr.ErrConflict) {
			return fmt.Errorf("mark failed: %w", markErr)
		}
		return nil
	}

	if err := o.jobs.MarkCompleted(ctx, jobID, mappings); err != nil && !errors.Is(err, pipelineerr.ErrConflict) {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

func (o *Orchestrator) runSteps(ctx context.Context, jobID string, msg models.QueueMessage) ([]models.Candidate, error) {
	// S1 ValidateSource.
	source, found, err := o.catalog.GetControl(ctx, msg.SourceControlKey)
	if err != nil {
		return nil, fmt.Errorf("validate source: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", pipelineerr.ErrSourceMissing, msg.SourceControlKey)
	}

	sourceText, err := o.prepareSourceText(ctx, msg.SourceControlKey, source)
	if err != nil {
		return nil, err
	}

	// S4.1 Source embedding.
	sourceVector, err := o.embedWithCache(ctx, msg.SourceControlKey, sourceText)
	if err != nil {
		return nil, err
	}

	// S4.2 Candidate set.
	candidates, err := o.catalog.ListControls(ctx, msg.TargetFrameworkKey, msg.TargetControlIDs)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	if len(candidates) == 0 {
		return []models.Candidate{}, nil
	}

	// S4.3 Target embeddings.
	targetVectors, survivingCandidates, err := o.embedCandidates(ctx, candidates)
	if err != nil {
		return nil, err
	}
	if len(survivingCandidates) == 0 {
		return []models.Candidate{}, nil
	}

	// S4.4 Retrieval.
	topK := o.cfg.TopK
	if topK > len(survivingCandidates) {
		topK = len(survivingCandidates)
	}
	matches, err := o.science.Retrieve(ctx, sourceVector, targetVectors, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve: %v", pipelineerr.ErrScienceUnavailable, err)
	}

	rerankCandidates := make([]interfaces.RerankCandidate, 0, len(matches))
	similarityByID := make(map[string]float64, len(matches))
	controlByID := make(map[string]*models.Control, len(matches))
	for _, m := range matches {
		if m.Index < 0 || m.Index >= len(survivingCandidates) {
			continue
		}
		c := survivingCandidates[m.Index]
		rerankCandidates = append(rerankCandidates, interfaces.RerankCandidate{ID: c.ControlID, Text: c.Description})
		similarityByID[c.ControlID] = m.Similarity
		controlByID[c.ControlID] = c
	}

	// S4.5 Rerank.
	reranked, err := o.science.Rerank(ctx, sourceText, rerankCandidates)
	if err != nil {
		return nil, fmt.Errorf("%w: rerank: %v", pipelineerr.ErrScienceUnavailable, err)
	}

	surviving := make([]interfaces.RerankResult, 0, len(reranked))
	for _, r := range reranked {
		if r.Score >= o.cfg.RerankMin {
			surviving = append(surviving, r)
		}
	}
	if len(surviving) == 0 {
		return []models.Candidate{}, nil
	}

	// S5 Reasoning (bounded fan-out).
	mappings := o.reasonAll(ctx, msg.SourceControlKey, sourceText, surviving, similarityByID, controlByID, msg.TargetFrameworkKey)

	sort.Slice(mappings, func(i, j int) bool {
		if mappings[i].RerankScore != mappings[j].RerankScore {
			return mappings[i].RerankScore > mappings[j].RerankScore
		}
		if mappings[i].SimilarityScore != mappings[j].SimilarityScore {
			return mappings[i].SimilarityScore > mappings[j].SimilarityScore
		}
		return mappings[i].TargetControlKey < mappings[j].TargetControlKey
	})

	return mappings, nil
}

// prepareSourceText implements S2/S3: read the enrichment cache, and on a
// miss call AgentClient.Enrich, falling back to the raw description on
// failure without failing the workflow (B5).
func (o *Orchestrator) prepareSourceText(ctx context.Context, sourceControlKey string, source *models.Control) (string, error) {
	if entry, hit, err := o.enrichment.Get(ctx, sourceControlKey, o.cfg.EnrichmentVersion); err != nil {
		return "", fmt.Errorf("read enrichment cache: %w", err)
	} else if hit {
		return entry.EnrichedText, nil
	}

	fwName, fwVersion, _ := keycodec.ParseFrameworkKey(source.FrameworkKey)

	result, err := o.agent.Enrich(ctx, interfaces.EnrichRequest{
		FrameworkName:    fwName,
		FrameworkVersion: fwVersion,
		ShortID:          source.ShortID,
		Title:            source.Title,
		Description:      source.Description,
	})
	if err != nil {
		o.logger.Warn().Err(err).Str("controlKey", sourceControlKey).Msg("enrichment degraded, falling back to raw description")
		return source.Description, nil
	}

	if putErr := o.enrichment.Put(ctx, &models.EnrichmentEntry{
		ControlKey:   sourceControlKey,
		EnrichedText: result.EnrichedText,
		Version:      o.cfg.EnrichmentVersion,
	}); putErr != nil {
		o.logger.Warn().Err(putErr).Str("controlKey", sourceControlKey).Msg("failed to persist enrichment")
	}
	return result.EnrichedText, nil
}

// embedWithCache implements S4.1: cache-then-compute for a single control.
func (o *Orchestrator) embedWithCache(ctx context.Context, controlKey, text string) ([]float32, error) {
	if entry, hit, err := o.embeddings.Get(ctx, controlKey, o.cfg.ModelVersion); err != nil {
		return nil, fmt.Errorf("read embedding cache: %w", err)
	} else if hit {
		return entry.Vector, nil
	}

	result, err := o.science.Embed(ctx, controlKey, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embed %s: %v", pipelineerr.ErrScienceUnavailable, controlKey, err)
	}
	if !cache.IsUnitNorm(result.Vector) {
		return nil, fmt.Errorf("%w: %s", pipelineerr.ErrVectorNotUnitNorm, controlKey)
	}

	if err := o.embeddings.Put(ctx, &models.EmbeddingEntry{
		ControlKey:   controlKey,
		ModelVersion: o.cfg.ModelVersion,
		Vector:       result.Vector,
	}); err != nil {
		o.logger.Warn().Err(err).Str("controlKey", controlKey).Msg("failed to persist embedding")
	}
	return result.Vector, nil
}

// embedCandidates implements S4.3: cache-then-batch-compute over chunks of
// at most cfg.EmbedBatchSize candidates, with one per-item retry on
// persistent per-item failure dropping the candidate, failing the workflow
// only if more than half of the candidates drop.
func (o *Orchestrator) embedCandidates(ctx context.Context, candidates []*models.Control) ([][]float32, []*models.Control, error) {
	vectors := make([][]float32, 0, len(candidates))
	surviving := make([]*models.Control, 0, len(candidates))
	dropped := 0

	batchSize := o.cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = len(candidates)
	}
	if batchSize <= 0 {
		batchSize = 1
	}

	for start := 0; start < len(candidates); start += batchSize {
		end := min(start+batchSize, len(candidates))
		chunk := candidates[start:end]

		chunkVectors := o.embedChunk(ctx, chunk)
		for i, c := range chunk {
			if chunkVectors[i] == nil {
				o.logger.Warn().Str("controlKey", c.ControlKey).Msg("dropping candidate after retry")
				dropped++
				continue
			}
			vectors = append(vectors, chunkVectors[i])
			surviving = append(surviving, c)
		}
	}

	if len(candidates) > 0 && float64(dropped) > 0.5*float64(len(candidates)) {
		return nil, nil, fmt.Errorf("%w: %d/%d candidates dropped", pipelineerr.ErrScienceUnavailable, dropped, len(candidates))
	}
	return vectors, surviving, nil
}

// embedChunk runs one batched ScienceClient.EmbedBatch round over at most
// cfg.EmbedBatchSize candidates. Cache hits bypass the batch call entirely;
// misses that come back with an error, a missing vector, or a non-unit-norm
// vector get one retry through the single-item cache-then-compute path
// before their slot is left nil (dropped).
func (o *Orchestrator) embedChunk(ctx context.Context, chunk []*models.Control) [][]float32 {
	vectors := make([][]float32, len(chunk))
	missIdx := make([]int, 0, len(chunk))
	missItems := make([]interfaces.EmbedBatchItem, 0, len(chunk))

	for i, c := range chunk {
		entry, hit, err := o.embeddings.Get(ctx, c.ControlKey, o.cfg.ModelVersion)
		if err != nil {
			o.logger.Warn().Err(err).Str("controlKey", c.ControlKey).Msg("read embedding cache failed, treating as miss")
		} else if hit {
			vectors[i] = entry.Vector
			continue
		}
		missIdx = append(missIdx, i)
		missItems = append(missItems, interfaces.EmbedBatchItem{ControlID: c.ControlKey, Text: c.Description})
	}
	if len(missItems) == 0 {
		return vectors
	}

	results, batchErr := o.science.EmbedBatch(ctx, missItems)
	for n, idx := range missIdx {
		c := chunk[idx]

		var vec []float32
		if batchErr == nil && n < len(results) && results[n].Error == "" && cache.IsUnitNorm(results[n].Vector) {
			vec = results[n].Vector
		}

		if vec == nil {
			// One retry (§4.10 S4.3) through the single-item path, which
			// re-checks the cache and re-validates unit norm on its own.
			if retried, err := o.embedWithCache(ctx, c.ControlKey, c.Description); err == nil {
				vec = retried
			} else {
				o.logger.Warn().Err(err).Str("controlKey", c.ControlKey).Msg("embedding retry failed")
				continue
			}
		} else if putErr := o.embeddings.Put(ctx, &models.EmbeddingEntry{
			ControlKey:   c.ControlKey,
			ModelVersion: o.cfg.ModelVersion,
			Vector:       vec,
		}); putErr != nil {
			o.logger.Warn().Err(putErr).Str("controlKey", c.ControlKey).Msg("failed to persist embedding")
		}

		vectors[idx] = vec
	}
	return vectors
}

// reasonAll implements S5: bounded-concurrency fan-out over surviving
// reranked candidates, each call's failure degrading to an empty reasoning
// string rather than failing the workflow.
func (o *Orchestrator) reasonAll(ctx context.Context, sourceControlKey, sourceText string, surviving []interfaces.RerankResult, similarityByID map[string]float64, controlByID map[string]*models.Control, targetFrameworkKey string) []models.Candidate {
	sem := make(chan struct{}, o.cfg.ReasoningConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	mappings := make([]models.Candidate, 0, len(surviving))

	for _, r := range surviving {
		r := r
		control := controlByID[r.ID]
		if control == nil {
			continue
		}
		targetControlKey, err := keycodec.BuildControlKey(targetFrameworkKey, control.ControlID)
		if err != nil {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			reasoning := ""
			result, err := o.agent.Reason(ctx, interfaces.ReasonRequest{
				SourceControlID: sourceControlKey,
				SourceText:      sourceText,
				Mapping: interfaces.ReasonMapping{
					TargetControlID: control.ControlID,
					TargetFramework: targetFrameworkKey,
					Text:            control.Description,
					SimilarityScore: similarityByID[r.ID],
					RerankScore:     r.Score,
				},
			})
			if err != nil {
				o.logger.Warn().Err(err).Str("targetControlKey", targetControlKey).Msg("reasoning failed, yielding empty string")
			} else {
				reasoning = result.Reasoning
			}

			mu.Lock()
			mappings = append(mappings, models.Candidate{
				TargetControlKey: targetControlKey,
				TargetControlID:  control.ControlID,
				SimilarityScore:  similarityByID[r.ID],
				RerankScore:      r.Score,
				Reasoning:        reasoning,
			})
			mu.Unlock()
		}()
	}
	wg.Wait()
	return mappings
}
