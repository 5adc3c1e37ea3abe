package orchestrator_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrlmap/mapper/internal/interfaces"
	"github.com/ctrlmap/mapper/internal/models"
	"github.com/ctrlmap/mapper/internal/orchestrator"
	"github.com/ctrlmap/mapper/internal/pipelineerr"
)

type fakeCatalog struct {
	controls map[string]*models.Control
	byFW     map[string][]*models.Control
}

func (f *fakeCatalog) GetFramework(ctx context.Context, frameworkKey string) (*models.Framework, bool, error) {
	return &models.Framework{FrameworkKey: frameworkKey}, true, nil
}
func (f *fakeCatalog) GetControl(ctx context.Context, controlKey string) (*models.Control, bool, error) {
	c, ok := f.controls[controlKey]
	return c, ok, nil
}
func (f *fakeCatalog) ListControls(ctx context.Context, frameworkKey string, controlIDs []string) ([]*models.Control, error) {
	all := f.byFW[frameworkKey]
	if len(controlIDs) == 0 {
		return all, nil
	}
	want := map[string]bool{}
	for _, id := range controlIDs {
		want[id] = true
	}
	var out []*models.Control
	for _, c := range all {
		if want[c.ControlID] {
			out = append(out, c)
		}
	}
	return out, nil
}
func (f *fakeCatalog) SuggestControlIDs(ctx context.Context, frameworkKey, query string, limit int) ([]string, error) {
	return nil, nil
}
func (f *fakeCatalog) SuggestFrameworkKeys(ctx context.Context, query string, limit int) ([]string, error) {
	return nil, nil
}

type fakeEnrichmentCache struct {
	entries map[string]*models.EnrichmentEntry
}

func enrKey(controlKey, enrichmentVersion string) string { return controlKey + "|" + enrichmentVersion }

func (f *fakeEnrichmentCache) Get(ctx context.Context, controlKey, enrichmentVersion string) (*models.EnrichmentEntry, bool, error) {
	e, ok := f.entries[enrKey(controlKey, enrichmentVersion)]
	return e, ok, nil
}
func (f *fakeEnrichmentCache) Put(ctx context.Context, entry *models.EnrichmentEntry) error {
	if f.entries == nil {
		f.entries = map[string]*models.EnrichmentEntry{}
	}
	f.entries[enrKey(entry.ControlKey, entry.Version)] = entry
	return nil
}

type fakeEmbeddingCache struct {
	entries map[string]*models.EmbeddingEntry
}

func embKey(controlKey, modelVersion string) string { return controlKey + "|" + modelVersion }

func (f *fakeEmbeddingCache) Get(ctx context.Context, controlKey, modelVersion string) (*models.EmbeddingEntry, bool, error) {
	e, ok := f.entries[embKey(controlKey, modelVersion)]
	return e, ok, nil
}
func (f *fakeEmbeddingCache) Put(ctx context.Context, entry *models.EmbeddingEntry) error {
	if f.entries == nil {
		f.entries = map[string]*models.EmbeddingEntry{}
	}
	f.entries[embKey(entry.ControlKey, entry.ModelVersion)] = entry
	return nil
}

type fakeScience struct {
	vectors        map[string][]float32
	similarities   []float64
	rerankScores   map[string]float64
	embedErr       error
	embedBatchErr  error
	batchCallSizes []int
}

func unitVector(seed int, dim int) []float32 {
	v := make([]float32, dim)
	v[seed%dim] = 1
	return v
}

func (f *fakeScience) Embed(ctx context.Context, controlID, text string) (interfaces.EmbedResult, error) {
	if f.embedErr != nil {
		return interfaces.EmbedResult{}, f.embedErr
	}
	if v, ok := f.vectors[controlID]; ok {
		return interfaces.EmbedResult{Vector: v}, nil
	}
	return interfaces.EmbedResult{Vector: unitVector(len(controlID), 4)}, nil
}
func (f *fakeScience) EmbedBatch(ctx context.Context, items []interfaces.EmbedBatchItem) ([]interfaces.EmbedBatchResult, error) {
	f.batchCallSizes = append(f.batchCallSizes, len(items))
	if f.embedBatchErr != nil {
		return nil, f.embedBatchErr
	}
	out := make([]interfaces.EmbedBatchResult, len(items))
	for i, item := range items {
		if v, ok := f.vectors[item.ControlID]; ok {
			out[i] = interfaces.EmbedBatchResult{Vector: v}
			continue
		}
		out[i] = interfaces.EmbedBatchResult{Vector: unitVector(len(item.ControlID), 4)}
	}
	return out, nil
}
func (f *fakeScience) Retrieve(ctx context.Context, sourceVector []float32, targetVectors [][]float32, topK int) ([]interfaces.RetrieveMatch, error) {
	out := make([]interfaces.RetrieveMatch, 0, len(targetVectors))
	for i := range targetVectors {
		sim := 0.5
		if i < len(f.similarities) {
			sim = f.similarities[i]
		}
		out = append(out, interfaces.RetrieveMatch{Index: i, Similarity: sim})
	}
	if topK < len(out) {
		out = out[:topK]
	}
	return out, nil
}
func (f *fakeScience) Rerank(ctx context.Context, sourceText string, candidates []interfaces.RerankCandidate) ([]interfaces.RerankResult, error) {
	out := make([]interfaces.RerankResult, 0, len(candidates))
	for _, c := range candidates {
		score := 0.9
		if s, ok := f.rerankScores[c.ID]; ok {
			score = s
		}
		out = append(out, interfaces.RerankResult{ID: c.ID, Score: score})
	}
	return out, nil
}

type fakeAgent struct {
	enrichErr error
	reasonErr error
}

func (f *fakeAgent) Enrich(ctx context.Context, req interfaces.EnrichRequest) (interfaces.EnrichResult, error) {
	if f.enrichErr != nil {
		return interfaces.EnrichResult{}, f.enrichErr
	}
	return interfaces.EnrichResult{EnrichedText: "enriched: " + req.Description}, nil
}
func (f *fakeAgent) Reason(ctx context.Context, req interfaces.ReasonRequest) (interfaces.ReasonResult, error) {
	if f.reasonErr != nil {
		return interfaces.ReasonResult{}, f.reasonErr
	}
	return interfaces.ReasonResult{Reasoning: "matches " + req.Mapping.TargetControlID}, nil
}

type fakeJobStore struct {
	completedMappings []models.Candidate
	failedMessage     string
	completedCalls    int
	failedCalls       int
}

func (f *fakeJobStore) Create(ctx context.Context, job *models.Job) error { return nil }
func (f *fakeJobStore) MarkRunning(ctx context.Context, jobID, executionHandle string) error {
	return nil
}
func (f *fakeJobStore) MarkCompleted(ctx context.Context, jobID string, mappings []models.Candidate) error {
	f.completedCalls++
	f.completedMappings = mappings
	return nil
}
func (f *fakeJobStore) MarkFailed(ctx context.Context, jobID, errorMessage string) error {
	f.failedCalls++
	f.failedMessage = errorMessage
	return nil
}
func (f *fakeJobStore) Get(ctx context.Context, jobID string) (*models.Job, error) { return nil, nil }
func (f *fakeJobStore) ResetRunningJobs(ctx context.Context, prefix string) (int, error) {
	return 0, nil
}

func sourceControl() *models.Control {
	return &models.Control{
		ControlKey:   "AWS.EC2#1.0#PR.1",
		FrameworkKey: "AWS.EC2#1.0",
		ControlID:    "PR.1",
		ShortID:      "PR.1",
		Description:  "restrict security group ingress",
	}
}

func TestRun_HappyPath(t *testing.T) {
	catalog := &fakeCatalog{
		controls: map[string]*models.Control{"AWS.EC2#1.0#PR.1": sourceControl()},
		byFW: map[string][]*models.Control{
			"NIST.800-53#5": {
				{ControlKey: "NIST.800-53#5#AC-1", FrameworkKey: "NIST.800-53#5", ControlID: "AC-1", Description: "d1"},
				{ControlKey: "NIST.800-53#5#AC-2", FrameworkKey: "NIST.800-53#5", ControlID: "AC-2", Description: "d2"},
				{ControlKey: "NIST.800-53#5#AC-3", FrameworkKey: "NIST.800-53#5", ControlID: "AC-3", Description: "d3"},
			},
		},
	}
	science := &fakeScience{
		similarities: []float64{0.90, 0.40, 0.70},
		rerankScores: map[string]float64{"AC-1": 0.92, "AC-2": 0.20, "AC-3": 0.55},
	}
	jobs := &fakeJobStore{}
	o := orchestrator.New(catalog, &fakeEnrichmentCache{}, &fakeEmbeddingCache{}, science, &fakeAgent{}, jobs, orchestrator.DefaultConfig(), nil)

	err := o.Run(context.Background(), "job-1", models.QueueMessage{
		SourceControlKey:   "AWS.EC2#1.0#PR.1",
		TargetFrameworkKey: "NIST.800-53#5",
	})
	require.NoError(t, err)
	require.Equal(t, 1, jobs.completedCalls)
	require.Equal(t, 0, jobs.failedCalls)
	require.Len(t, jobs.completedMappings, 2)
	assert.Equal(t, "AC-1", jobs.completedMappings[0].TargetControlID)
	assert.Equal(t, "AC-3", jobs.completedMappings[1].TargetControlID)
	assert.Greater(t, jobs.completedMappings[0].RerankScore, jobs.completedMappings[1].RerankScore)
}

func TestRun_SourceMissingFailsWorkflow(t *testing.T) {
	catalog := &fakeCatalog{controls: map[string]*models.Control{}}
	jobs := &fakeJobStore{}
	o := orchestrator.New(catalog, &fakeEnrichmentCache{}, &fakeEmbeddingCache{}, &fakeScience{}, &fakeAgent{}, jobs, orchestrator.DefaultConfig(), nil)

	err := o.Run(context.Background(), "job-1", models.QueueMessage{
		SourceControlKey:   "AWS.EC2#1.0#DOES_NOT_EXIST",
		TargetFrameworkKey: "NIST.800-53#5",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, jobs.failedCalls)
	assert.Equal(t, models.ErrorSourceMissing, jobs.failedMessage)
}

func TestRun_EmptyCandidateSetCompletesWithEmptyMappings(t *testing.T) {
	catalog := &fakeCatalog{
		controls: map[string]*models.Control{"AWS.EC2#1.0#PR.1": sourceControl()},
		byFW:     map[string][]*models.Control{"NIST.800-53#5": {}},
	}
	jobs := &fakeJobStore{}
	o := orchestrator.New(catalog, &fakeEnrichmentCache{}, &fakeEmbeddingCache{}, &fakeScience{}, &fakeAgent{}, jobs, orchestrator.DefaultConfig(), nil)

	err := o.Run(context.Background(), "job-1", models.QueueMessage{
		SourceControlKey:   "AWS.EC2#1.0#PR.1",
		TargetFrameworkKey: "NIST.800-53#5",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, jobs.completedCalls)
	assert.Empty(t, jobs.completedMappings)
}

func TestRun_AllCandidatesBelowRerankMinCompletesWithEmptyMappings(t *testing.T) {
	catalog := &fakeCatalog{
		controls: map[string]*models.Control{"AWS.EC2#1.0#PR.1": sourceControl()},
		byFW: map[string][]*models.Control{
			"NIST.800-53#5": {{ControlKey: "NIST.800-53#5#AC-1", FrameworkKey: "NIST.800-53#5", ControlID: "AC-1", Description: "d1"}},
		},
	}
	science := &fakeScience{rerankScores: map[string]float64{"AC-1": 0.1}}
	jobs := &fakeJobStore{}
	o := orchestrator.New(catalog, &fakeEnrichmentCache{}, &fakeEmbeddingCache{}, science, &fakeAgent{}, jobs, orchestrator.DefaultConfig(), nil)

	err := o.Run(context.Background(), "job-1", models.QueueMessage{
		SourceControlKey:   "AWS.EC2#1.0#PR.1",
		TargetFrameworkKey: "NIST.800-53#5",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, jobs.completedCalls)
	assert.Empty(t, jobs.completedMappings)
}

func TestRun_EnrichmentDegradesGracefully(t *testing.T) {
	catalog := &fakeCatalog{
		controls: map[string]*models.Control{"AWS.EC2#1.0#PR.1": sourceControl()},
		byFW: map[string][]*models.Control{
			"NIST.800-53#5": {{ControlKey: "NIST.800-53#5#AC-1", FrameworkKey: "NIST.800-53#5", ControlID: "AC-1", Description: "d1"}},
		},
	}
	agent := &fakeAgent{enrichErr: pipelineerr.ErrAgentUnavailable}
	jobs := &fakeJobStore{}
	o := orchestrator.New(catalog, &fakeEnrichmentCache{}, &fakeEmbeddingCache{}, &fakeScience{}, agent, jobs, orchestrator.DefaultConfig(), nil)

	err := o.Run(context.Background(), "job-1", models.QueueMessage{
		SourceControlKey:   "AWS.EC2#1.0#PR.1",
		TargetFrameworkKey: "NIST.800-53#5",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, jobs.completedCalls)
	require.Len(t, jobs.completedMappings, 1)
}

func TestRun_ScienceEmbedFailureFailsWorkflow(t *testing.T) {
	catalog := &fakeCatalog{controls: map[string]*models.Control{"AWS.EC2#1.0#PR.1": sourceControl()}}
	science := &fakeScience{embedErr: pipelineerr.ErrScienceTransient}
	jobs := &fakeJobStore{}
	o := orchestrator.New(catalog, &fakeEnrichmentCache{}, &fakeEmbeddingCache{}, science, &fakeAgent{}, jobs, orchestrator.DefaultConfig(), nil)

	err := o.Run(context.Background(), "job-1", models.QueueMessage{
		SourceControlKey:   "AWS.EC2#1.0#PR.1",
		TargetFrameworkKey: "NIST.800-53#5",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, jobs.failedCalls)
	assert.Equal(t, models.ErrorScienceUnavailable, jobs.failedMessage)
}

func TestRun_ScienceEmbedNonUnitNormVectorFailsWorkflowWithScienceUnavailable(t *testing.T) {
	catalog := &fakeCatalog{controls: map[string]*models.Control{"AWS.EC2#1.0#PR.1": sourceControl()}}
	science := &fakeScience{vectors: map[string][]float32{"AWS.EC2#1.0#PR.1": {0.1, 0.1}}}
	jobs := &fakeJobStore{}
	o := orchestrator.New(catalog, &fakeEnrichmentCache{}, &fakeEmbeddingCache{}, science, &fakeAgent{}, jobs, orchestrator.DefaultConfig(), nil)

	err := o.Run(context.Background(), "job-1", models.QueueMessage{
		SourceControlKey:   "AWS.EC2#1.0#PR.1",
		TargetFrameworkKey: "NIST.800-53#5",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, jobs.failedCalls)
	assert.Equal(t, models.ErrorScienceUnavailable, jobs.failedMessage)
}

func TestRun_EmbedCandidatesSplitsIntoConfiguredBatchSize(t *testing.T) {
	byFW := make([]*models.Control, 0, 5)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("AC-%d", i+1)
		byFW = append(byFW, &models.Control{
			ControlKey:   "NIST.800-53#5#" + id,
			FrameworkKey: "NIST.800-53#5",
			ControlID:    id,
			Description:  "d" + id,
		})
	}
	catalog := &fakeCatalog{
		controls: map[string]*models.Control{"AWS.EC2#1.0#PR.1": sourceControl()},
		byFW:     map[string][]*models.Control{"NIST.800-53#5": byFW},
	}
	science := &fakeScience{}
	jobs := &fakeJobStore{}
	cfg := orchestrator.DefaultConfig()
	cfg.EmbedBatchSize = 2
	o := orchestrator.New(catalog, &fakeEnrichmentCache{}, &fakeEmbeddingCache{}, science, &fakeAgent{}, jobs, cfg, nil)

	err := o.Run(context.Background(), "job-1", models.QueueMessage{
		SourceControlKey:   "AWS.EC2#1.0#PR.1",
		TargetFrameworkKey: "NIST.800-53#5",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, jobs.completedCalls)
	assert.Equal(t, []int{2, 2, 1}, science.batchCallSizes)
}
