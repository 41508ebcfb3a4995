package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursegen-core/server/internal/agent/model"
	"github.com/coursegen-core/server/internal/agent/prompts"
	"github.com/coursegen-core/server/internal/agent/providers"
	"github.com/coursegen-core/server/internal/agent/repo"
	errx "github.com/coursegen-core/server/internal/core/error"
)

var testTemplates = fstest.MapFS{
	"extraction.txt": {Data: []byte("EXTRACT topic={{ topic }}")},
	"research.txt":   {Data: []byte("RESEARCH title={{ title }}")},
	"validation.txt": {Data: []byte("VALIDATE title={{ title }} source={{ extraction }}")},
	"broken.txt":     {Data: []byte("BROKEN {{ nowhere }}")},
}

func testDefinition() *Definition {
	return &Definition{
		Name: "course-proposal",
		Steps: []StepDef{
			{Name: "extraction", Template: "extraction", Schema: model.Schema{Required: []string{"title"}}},
			{Name: "research", Template: "research", Schema: model.Schema{Required: []string{"summary"}}},
			{Name: "validation", Template: "validation", Schema: model.Schema{Required: []string{"valid"}}},
		},
	}
}

var okResponses = map[string]string{
	"EXTRACT":  "Here it is:\n```json\n{\"title\": \"Data Basics\", \"level\": 2}\n```",
	"RESEARCH": `{"summary": "ok", "title": "Data Basics v2"}`,
	"VALIDATE": `{"valid": true}`,
}

type handleFunc func(step string, call int, req model.ModelRequest) (model.RawResponse, error)

type fakeRequester struct {
	mu      sync.Mutex
	calls   map[string]int
	prompts []string
	handle  handleFunc
}

func newFakeRequester(handle handleFunc) *fakeRequester {
	if handle == nil {
		handle = succeed
	}
	return &fakeRequester{calls: make(map[string]int), handle: handle}
}

func succeed(step string, _ int, _ model.ModelRequest) (model.RawResponse, error) {
	return model.RawResponse{
		Text:  okResponses[step],
		Usage: model.TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}, nil
}

func (f *fakeRequester) Complete(_ context.Context, req model.ModelRequest) (model.RawResponse, error) {
	step := strings.Fields(req.Prompt)[0]
	f.mu.Lock()
	f.calls[step]++
	n := f.calls[step]
	f.prompts = append(f.prompts, req.Prompt)
	handle := f.handle
	f.mu.Unlock()
	return handle(step, n, req)
}

func (f *fakeRequester) count(step string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[step]
}

func (f *fakeRequester) setHandle(h handleFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handle = h
}

type harness struct {
	seq    *Sequencer
	req    *fakeRequester
	store  *repo.FileCheckpointStore
	sleeps []time.Duration
}

func newHarness(t *testing.T, handle handleFunc, retry model.RetryConfig) *harness {
	t.Helper()
	store, err := repo.NewFileCheckpointStore(t.TempDir())
	require.NoError(t, err)

	h := &harness{req: newFakeRequester(handle), store: store}
	choice, _ := providers.Lookup("GPT-4o-mini")
	h.seq, err = New(Config{
		Prompts:     prompts.NewLibrary(testTemplates),
		Requester:   h.req,
		Choice:      choice,
		Credentials: model.NewCredentials(map[string]string{model.ProviderOpenAI: "sk-test"}),
		Checkpoints: store,
		Retry:       retry,
	})
	require.NoError(t, err)
	h.seq.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return ctx.Err()
	}
	return h
}

func defaultRetry() model.RetryConfig {
	return model.RetryConfig{MaxRetries: 2, Backoff: time.Second}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{Requester: newFakeRequester(nil)})
	assert.Error(t, err)
	_, err = New(Config{Prompts: prompts.NewLibrary(testTemplates)})
	assert.Error(t, err)
}

func TestRunCompletes(t *testing.T) {
	h := newHarness(t, nil, defaultRetry())
	ctx := context.Background()

	st, err := h.seq.Run(ctx, testDefinition(), "run-1", model.Variables{"topic": "data"})
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, st.Status)
	require.Len(t, st.Steps, 3)
	assert.Equal(t, "validation", st.LastCompletedStep())
	for _, rec := range st.Steps {
		assert.Equal(t, 1, rec.Attempts)
		assert.Equal(t, 150, rec.Usage.TotalTokens)
	}
	assert.Greater(t, st.TotalCostUSD, 0.0)

	// prior documents feed later prompts, most recent value first
	assert.Equal(t, "EXTRACT topic=data", h.req.prompts[0])
	assert.Equal(t, "RESEARCH title=Data Basics", h.req.prompts[1])
	assert.Equal(t, `VALIDATE title=Data Basics v2 source={"level":2,"title":"Data Basics"}`, h.req.prompts[2])

	agg := st.Aggregate()
	title, _ := agg.Get("title")
	assert.Equal(t, "Data Basics v2", title)

	saved, err := h.store.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, saved.Status)
	assert.Len(t, saved.Steps, 3)
	assert.Equal(t, "data", saved.Inputs["topic"])
}

func TestRunGeneratesRunID(t *testing.T) {
	h := newHarness(t, nil, defaultRetry())
	st, err := h.seq.Run(context.Background(), testDefinition(), "", model.Variables{"topic": "x"})
	require.NoError(t, err)
	assert.NotEmpty(t, st.RunID)

	ids, err := h.store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{st.RunID}, ids)
}

func TestRunRetriesTransientFailure(t *testing.T) {
	h := newHarness(t, func(step string, call int, req model.ModelRequest) (model.RawResponse, error) {
		if step == "RESEARCH" && call <= 2 {
			return model.RawResponse{}, errx.ProviderUnavailable(errors.New("502"))
		}
		return succeed(step, call, req)
	}, defaultRetry())

	st, err := h.seq.Run(context.Background(), testDefinition(), "run-1", model.Variables{"topic": "x"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, st.Status)
	require.Len(t, st.Steps, 3)
	assert.Equal(t, 3, st.Steps[1].Attempts)
	assert.Equal(t, 3, h.req.count("RESEARCH"))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.sleeps)
}

func TestRunFailsAfterRetriesExhausted(t *testing.T) {
	h := newHarness(t, func(step string, call int, req model.ModelRequest) (model.RawResponse, error) {
		if step == "RESEARCH" {
			return model.RawResponse{}, errx.ProviderUnavailable(errors.New("503"))
		}
		return succeed(step, call, req)
	}, defaultRetry())
	ctx := context.Background()

	st, err := h.seq.Run(ctx, testDefinition(), "run-1", model.Variables{"topic": "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errx.ErrProviderUnavailable))
	assert.Equal(t, 3, h.req.count("RESEARCH"))
	assert.Equal(t, 0, h.req.count("VALIDATE"))

	require.NotNil(t, st)
	assert.Equal(t, model.StatusFailed, st.Status)

	saved, err := h.store.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, saved.Status)
	assert.Equal(t, "research", saved.FailedStep)
	assert.NotEmpty(t, saved.LastError)
	require.Len(t, saved.Steps, 1)
	assert.Equal(t, "extraction", saved.Steps[0].Name)
}

func TestRunDoesNotRetryAuthentication(t *testing.T) {
	h := newHarness(t, func(step string, call int, req model.ModelRequest) (model.RawResponse, error) {
		return model.RawResponse{}, errx.AuthenticationFailed(errors.New("401"))
	}, defaultRetry())

	_, err := h.seq.Run(context.Background(), testDefinition(), "run-1", model.Variables{"topic": "x"})
	assert.True(t, errors.Is(err, errx.ErrAuthenticationFailed))
	assert.Equal(t, 1, h.req.count("EXTRACT"))
	assert.Empty(t, h.sleeps)
}

func TestRunRateLimitExhaustedIsProviderUnavailable(t *testing.T) {
	h := newHarness(t, func(step string, call int, req model.ModelRequest) (model.RawResponse, error) {
		return model.RawResponse{}, errx.RateLimited(errors.New("429"))
	}, defaultRetry())

	_, err := h.seq.Run(context.Background(), testDefinition(), "run-1", model.Variables{"topic": "x"})
	assert.True(t, errors.Is(err, errx.ErrProviderUnavailable))
	assert.Equal(t, 3, h.req.count("EXTRACT"))
}

func TestRunRetriesTimeoutOnce(t *testing.T) {
	h := newHarness(t, func(step string, call int, req model.ModelRequest) (model.RawResponse, error) {
		return model.RawResponse{}, errx.Timeout(context.DeadlineExceeded)
	}, model.RetryConfig{MaxRetries: 5})

	_, err := h.seq.Run(context.Background(), testDefinition(), "run-1", model.Variables{"topic": "x"})
	assert.True(t, errors.Is(err, errx.ErrTimeout))
	assert.Equal(t, 2, h.req.count("EXTRACT"))
}

func TestRunRetriesUnparseableOutput(t *testing.T) {
	h := newHarness(t, func(step string, call int, req model.ModelRequest) (model.RawResponse, error) {
		if step == "EXTRACT" && call == 1 {
			return model.RawResponse{Text: "I cannot answer in JSON today."}, nil
		}
		if step == "EXTRACT" && call == 2 {
			return model.RawResponse{Text: `{"level": 1}`}, nil
		}
		return succeed(step, call, req)
	}, defaultRetry())

	st, err := h.seq.Run(context.Background(), testDefinition(), "run-1", model.Variables{"topic": "x"})
	require.NoError(t, err)
	assert.Equal(t, 3, st.Steps[0].Attempts)
}

func TestRunMissingVariableFailsWithoutCall(t *testing.T) {
	h := newHarness(t, nil, defaultRetry())

	_, err := h.seq.Run(context.Background(), testDefinition(), "run-1", model.Variables{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errx.ErrMissingVariable))
	assert.Contains(t, err.Error(), "topic")
	assert.Equal(t, 0, h.req.count("EXTRACT"))
	assert.Empty(t, h.sleeps)
}

func TestRunTemplateNotFound(t *testing.T) {
	h := newHarness(t, nil, defaultRetry())
	def := &Definition{Name: "p", Steps: []StepDef{{Name: "a", Template: "nope"}}}

	_, err := h.seq.Run(context.Background(), def, "run-1", nil)
	assert.True(t, errors.Is(err, errx.ErrTemplateNotFound))
}

func TestResumeContinuesAtFailedStep(t *testing.T) {
	h := newHarness(t, func(step string, call int, req model.ModelRequest) (model.RawResponse, error) {
		if step == "RESEARCH" {
			return model.RawResponse{}, errx.AuthenticationFailed(errors.New("bad key"))
		}
		return succeed(step, call, req)
	}, defaultRetry())
	ctx := context.Background()

	_, err := h.seq.Run(ctx, testDefinition(), "run-1", model.Variables{"topic": "x"})
	require.Error(t, err)

	h.req.setHandle(succeed)
	st, err := h.seq.Resume(ctx, testDefinition(), "run-1", nil)
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, st.Status)
	assert.Empty(t, st.FailedStep)
	assert.Empty(t, st.LastError)
	require.Len(t, st.Steps, 3)
	assert.Equal(t, 1, h.req.count("EXTRACT"))
	assert.Equal(t, 2, h.req.count("RESEARCH"))
}

func TestResumeCompletedRunIsNoop(t *testing.T) {
	h := newHarness(t, nil, defaultRetry())
	ctx := context.Background()

	_, err := h.seq.Run(ctx, testDefinition(), "run-1", model.Variables{"topic": "x"})
	require.NoError(t, err)

	st, err := h.seq.Resume(ctx, testDefinition(), "run-1", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, st.Status)
	assert.Equal(t, 1, h.req.count("EXTRACT"))
	assert.Equal(t, 1, h.req.count("VALIDATE"))
}

func TestResumeRejectsMismatchedDefinition(t *testing.T) {
	h := newHarness(t, func(step string, call int, req model.ModelRequest) (model.RawResponse, error) {
		if step == "RESEARCH" {
			return model.RawResponse{}, errx.AuthenticationFailed(nil)
		}
		return succeed(step, call, req)
	}, defaultRetry())
	ctx := context.Background()

	_, _ = h.seq.Run(ctx, testDefinition(), "run-1", model.Variables{"topic": "x"})

	other := testDefinition()
	other.Steps[0].Name = "intake"
	_, err := h.seq.Resume(ctx, other, "run-1", nil)
	assert.True(t, errors.Is(err, ErrCheckpointMismatch))

	renamed := testDefinition()
	renamed.Name = "assessment-plan"
	_, err = h.seq.Resume(ctx, renamed, "run-1", nil)
	assert.True(t, errors.Is(err, ErrCheckpointMismatch))
}

func TestResumeUnknownRun(t *testing.T) {
	h := newHarness(t, nil, defaultRetry())
	_, err := h.seq.Resume(context.Background(), testDefinition(), "ghost", nil)
	assert.True(t, errors.Is(err, errx.ErrCheckpointNotFound))
}

// cancelAfterStore cancels the run once a snapshot with n steps is saved.
type cancelAfterStore struct {
	model.CheckpointStore
	n      int
	cancel context.CancelFunc
}

func (s *cancelAfterStore) Save(ctx context.Context, st *model.PipelineState) error {
	if err := s.CheckpointStore.Save(ctx, st); err != nil {
		return err
	}
	if len(st.Steps) == s.n {
		s.cancel()
	}
	return nil
}

// flakyStore fails running snapshots that carry n steps.
type flakyStore struct {
	model.CheckpointStore
	n int
}

var errDiskFull = errors.New("disk full")

func (s *flakyStore) Save(ctx context.Context, st *model.PipelineState) error {
	if st.Status == model.StatusRunning && len(st.Steps) == s.n {
		return errDiskFull
	}
	return s.CheckpointStore.Save(ctx, st)
}

func TestRunFailsWhenCheckpointCannotBeSaved(t *testing.T) {
	h := newHarness(t, nil, defaultRetry())
	h.seq.checkpoints = &flakyStore{CheckpointStore: h.store, n: 2}

	st, err := h.seq.Run(context.Background(), testDefinition(), "run-1", model.Variables{"topic": "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, model.StatusFailed, st.Status)
	assert.Equal(t, "research", st.FailedStep)
	require.Len(t, st.Steps, 1)
	assert.Equal(t, "extraction", st.LastCompletedStep())
	assert.Equal(t, 0, h.req.count("VALIDATE"))

	saved, err := h.store.Load(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, saved.Status)
	assert.Equal(t, "research", saved.FailedStep)
	assert.Len(t, saved.Steps, 1)

	// the unsaved step runs again on resume
	h.seq.checkpoints = h.store
	st, err = h.seq.Resume(context.Background(), testDefinition(), "run-1", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, st.Status)
	assert.Equal(t, 2, h.req.count("RESEARCH"))
}

func TestRunFailsWhenFirstCheckpointCannotBeSaved(t *testing.T) {
	h := newHarness(t, nil, defaultRetry())
	h.seq.checkpoints = &flakyStore{CheckpointStore: h.store, n: 0}

	st, err := h.seq.Run(context.Background(), testDefinition(), "run-1", model.Variables{"topic": "x"})
	assert.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, model.StatusFailed, st.Status)
	assert.Equal(t, "extraction", st.FailedStep)
	assert.Equal(t, 0, h.req.count("EXTRACT"))
}

func TestRunCancelledAtStepBoundary(t *testing.T) {
	h := newHarness(t, nil, defaultRetry())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.seq.checkpoints = &cancelAfterStore{CheckpointStore: h.store, n: 1, cancel: cancel}

	st, err := h.seq.Run(ctx, testDefinition(), "run-1", model.Variables{"topic": "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, model.StatusFailed, st.Status)
	assert.Equal(t, 0, h.req.count("RESEARCH"))

	saved, err := h.store.Load(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "research", saved.FailedStep)
	assert.Len(t, saved.Steps, 1)
}

func TestRunCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, func(step string, call int, req model.ModelRequest) (model.RawResponse, error) {
		cancel()
		return model.RawResponse{}, errx.ProviderUnavailable(errors.New("down"))
	}, defaultRetry())

	_, err := h.seq.Run(ctx, testDefinition(), "run-1", model.Variables{"topic": "x"})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, h.req.count("EXTRACT"))
}

func TestStepOverrides(t *testing.T) {
	var got model.ModelRequest
	h := newHarness(t, func(step string, call int, req model.ModelRequest) (model.RawResponse, error) {
		got = req
		return succeed(step, call, req)
	}, defaultRetry())

	temp := float32(0.7)
	jsonMode := false
	def := &Definition{Name: "p", Steps: []StepDef{{
		Name:        "extraction",
		Template:    "extraction",
		System:      "You are a curriculum designer.",
		Temperature: &temp,
		JSONMode:    &jsonMode,
		MaxTokens:   256,
	}}}

	_, err := h.seq.Run(context.Background(), def, "run-1", model.Variables{"topic": "x"})
	require.NoError(t, err)
	assert.Equal(t, float32(0.7), got.Temperature)
	assert.False(t, got.JSONMode)
	assert.Equal(t, "You are a curriculum designer.", got.System)
	assert.Equal(t, 256, got.MaxTokens)
	assert.Equal(t, "sk-test", got.APIKey)
	assert.Equal(t, "gpt-4o-mini", got.Model)
}

func TestSkipPriorOutputs(t *testing.T) {
	h := newHarness(t, nil, defaultRetry())
	def := testDefinition()
	def.Steps[1].SkipPriorOutputs = true

	// research needs {{ title }}, which only the extraction document provides
	st, err := h.seq.Run(context.Background(), def, "run-1", model.Variables{"topic": "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errx.ErrMissingVariable))
	assert.Equal(t, "research", st.FailedStep)
	assert.Equal(t, 0, h.req.count("RESEARCH"))

	st, err = h.seq.Run(context.Background(), def, "run-2", model.Variables{"topic": "x", "title": "From Inputs"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, st.Status)
	assert.Contains(t, h.req.prompts, "RESEARCH title=From Inputs")
}

func TestRunAll(t *testing.T) {
	h := newHarness(t, nil, defaultRetry())
	saq := testDefinition()
	saq.Name = "saq"
	pp := testDefinition()
	pp.Name = "pp"

	states, err := h.seq.RunAll(context.Background(),
		Job{Definition: saq, Inputs: model.Variables{"topic": "a"}},
		Job{Definition: pp, Inputs: model.Variables{"topic": "b"}},
	)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "saq", states[0].Pipeline)
	assert.Equal(t, "pp", states[1].Pipeline)
	assert.NotEqual(t, states[0].RunID, states[1].RunID)
	for _, st := range states {
		assert.Equal(t, model.StatusCompleted, st.Status)
	}
	assert.Equal(t, 2, h.req.count("VALIDATE"))
}

func TestRunAllIsolatesFailures(t *testing.T) {
	h := newHarness(t, func(step string, call int, req model.ModelRequest) (model.RawResponse, error) {
		if strings.Contains(req.Prompt, "topic=bad") {
			return model.RawResponse{}, errx.AuthenticationFailed(nil)
		}
		return succeed(step, call, req)
	}, defaultRetry())
	h.seq.concurrency = 1

	states, err := h.seq.RunAll(context.Background(),
		Job{Definition: testDefinition(), RunID: "good", Inputs: model.Variables{"topic": "fine"}},
		Job{Definition: testDefinition(), RunID: "bad", Inputs: model.Variables{"topic": "bad"}},
	)
	require.Error(t, err)
	assert.Equal(t, model.StatusCompleted, states[0].Status)
	assert.Equal(t, model.StatusFailed, states[1].Status)
}

func bundledDefinition(t *testing.T, name string) *Definition {
	t.Helper()
	def, err := LoadDefinition(filepath.Join("..", "..", "..", "pipelines", name+".yaml"))
	require.NoError(t, err)
	return def
}

// answerBundled replies to the bundled assessment prompts by their content.
func answerBundled(_ string, _ int, req model.ModelRequest) (model.RawResponse, error) {
	var text string
	switch {
	case strings.Contains(req.Prompt, "Facilitator guide:"):
		text = "```json\n" + `{
  "course_title": "Applied Data Analytics",
  "tsc_code": "ICT-DIT-3002-1.1",
  "assessments": [{"code": "SAQ", "duration": "1 hr"}, {"code": "PP", "duration": "2 hrs"}],
  "knowledge": [{"id": "K1", "text": "Data types", "topics": ["Topic 1: Data"]}],
  "abilities": [{"id": "A1", "text": "Clean a dataset", "topics": ["Topic 1: Data"]}]
}` + "\n```"
	case strings.Contains(req.Prompt, "short-answer assessment"):
		text = `{"course_title": "Applied Data Analytics", "duration": "1 hr", "questions": [{"knowledge_id": "K1", "scenario": "s", "question_statement": "q", "answer": ["a"]}]}`
	case strings.Contains(req.Prompt, "practical performance assessment"):
		text = `Here is the case: {"course_title": "Applied Data Analytics", "duration": "2 hrs", "scenario": "s", "questions": [{"question_statement": "q", "ability_id": ["A1"], "answer": "a"}]}`
	default:
		return model.RawResponse{}, errx.ProviderUnavailable(errors.New("unexpected prompt"))
	}
	return model.RawResponse{Text: text, Usage: model.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}, nil
}

func TestRunAllBundledAssessments(t *testing.T) {
	store, err := repo.NewFileCheckpointStore(t.TempDir())
	require.NoError(t, err)
	req := newFakeRequester(answerBundled)
	choice, _ := providers.Lookup("")
	seq, err := New(Config{
		Prompts:     prompts.NewDirLibrary(filepath.Join("..", "..", "..", "prompts")),
		Requester:   req,
		Choice:      choice,
		Credentials: model.NewCredentials(map[string]string{model.ProviderGemini: "g-test"}),
		Checkpoints: store,
		Retry:       defaultRetry(),
		Concurrency: 2,
	})
	require.NoError(t, err)

	inputs := model.Variables{"facilitator_guide": "LU1 Topic 1: Data. K1 Data types. A1 Clean a dataset."}
	states, err := seq.RunAll(context.Background(),
		Job{Definition: bundledDefinition(t, "assessment_saq"), RunID: "saq-1", Inputs: inputs},
		Job{Definition: bundledDefinition(t, "assessment_pp"), RunID: "pp-1", Inputs: inputs},
	)
	require.NoError(t, err)
	require.Len(t, states, 2)

	saq, pp := states[0], states[1]
	assert.Equal(t, model.StatusCompleted, saq.Status)
	assert.Equal(t, model.StatusCompleted, pp.Status)
	assert.Equal(t, "questions", saq.LastCompletedStep())
	assert.Equal(t, "case_study", pp.LastCompletedStep())

	v, ok := pp.Aggregate().Lookup("questions")
	require.True(t, ok)
	assert.Len(t, v, 1)
	scenario, _ := pp.Aggregate().Get("scenario")
	assert.Equal(t, "s", scenario)

	for _, id := range []string{"saq-1", "pp-1"} {
		saved, err := store.Load(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, saved.Status)
	}
}
