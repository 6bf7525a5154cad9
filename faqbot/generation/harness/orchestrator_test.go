package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	internal "github.com/ZanzyTHEbar/faqbot/faqbot"
	"github.com/ZanzyTHEbar/faqbot/faqbot/config"
	"github.com/ZanzyTHEbar/faqbot/faqbot/generation/harness/adapters"
	ports "github.com/ZanzyTHEbar/faqbot/faqbot/generation/harness/ports"
	"github.com/ZanzyTHEbar/faqbot/faqbot/memory/service"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// StubProvider implements Provider for testing.
type StubProvider struct {
	completionFunc func(ctx context.Context, prompt string, opts ports.Options) (ports.Completion, error)

	mu      sync.Mutex
	prompts []string
}

func (p *StubProvider) Complete(ctx context.Context, prompt string, opts ports.Options) (ports.Completion, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	p.mu.Unlock()

	if p.completionFunc != nil {
		return p.completionFunc(ctx, prompt, opts)
	}
	return ports.Completion{Text: "stub completion", Model: "stub"}, nil
}

func (p *StubProvider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}

// MockRetriever is a testify mock of service.Retriever.
type MockRetriever struct {
	mock.Mock
}

func (m *MockRetriever) Retrieve(ctx context.Context, query string, k int) ([]service.Passage, error) {
	args := m.Called(ctx, query, k)
	passages, _ := args.Get(0).([]service.Passage)
	return passages, args.Error(1)
}

var faqPassage = service.Passage{
	Text:     "Question: Comment créer un compte?\nRéponse: Cliquez sur Inscription.",
	Metadata: map[string]string{service.MetaID: "0"},
}

type OrchestratorSuite struct {
	suite.Suite

	cfg       *config.Config
	retriever *MockRetriever
	provider  *StubProvider
	metrics   *service.MetricsCollector
	orch      *RequestOrchestrator
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	cfg, err := config.LoadConfig("")
	s.Require().NoError(err)
	cfg.Harness.RateLimitEnabled = false
	cfg.Harness.CacheEnabled = false
	s.cfg = cfg

	s.retriever = new(MockRetriever)
	s.provider = &StubProvider{}
	s.metrics = service.NewMetricsCollector()
	s.build()
}

func (s *OrchestratorSuite) build() {
	orch, err := NewFactory(s.cfg, zerolog.Nop()).
		WithRandomSource(fixedRand{i: 0}).
		CreateOrchestrator(s.retriever, s.provider, s.metrics)
	s.Require().NoError(err)
	s.orch = orch
}

func (s *OrchestratorSuite) TestInsultGetsCannedReply() {
	ans := s.orch.HandleQuestion(context.Background(), "s1", "tu es vraiment nul")

	s.Equal(OutcomeCanned, ans.Outcome)
	s.Equal(ToneInsult, ans.Tone)
	s.Contains(internal.DefaultInsultResponses, ans.Response)
	s.Len(ans.History, 2)
	s.NoError(ans.Err)
	s.retriever.AssertNotCalled(s.T(), "Retrieve", mock.Anything, mock.Anything, mock.Anything)
	s.Empty(s.provider.Prompts())
}

func (s *OrchestratorSuite) TestSarcasmGetsCannedReply() {
	ans := s.orch.HandleQuestion(context.Background(), "s1", "bravo, super efficace!")

	s.Equal(OutcomeCanned, ans.Outcome)
	s.Equal(ToneSarcasm, ans.Tone)
	s.Equal(internal.DefaultSarcasmResponses[0], ans.Response)
}

func (s *OrchestratorSuite) TestEmptyRetrievalFallsBack() {
	s.retriever.On("Retrieve", mock.Anything, "Quels sont vos horaires ?", 1).Return([]service.Passage{}, nil).Once()

	ans := s.orch.HandleQuestion(context.Background(), "s1", "Quels sont vos horaires ?")

	s.Equal(OutcomeFallback, ans.Outcome)
	s.Contains(internal.DefaultFallbackResponses, ans.Response)
	s.Len(ans.History, 2)
	s.Empty(s.provider.Prompts())
	s.retriever.AssertExpectations(s.T())
}

func (s *OrchestratorSuite) TestFixedRefusalPolicy() {
	s.cfg.Pipeline.FallbackPolicy = FallbackFixedRefusal
	s.cfg.Pipeline.RefusalMessage = "Je ne sais pas."
	s.build()
	s.retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	ans := s.orch.HandleQuestion(context.Background(), "s1", "Question sans réponse")
	s.Equal("Je ne sais pas.", ans.Response)
}

func (s *OrchestratorSuite) TestGeneratesWithComposedPrompt() {
	s.retriever.On("Retrieve", mock.Anything, mock.Anything, 1).Return([]service.Passage{faqPassage}, nil)
	s.provider.completionFunc = func(ctx context.Context, prompt string, opts ports.Options) (ports.Completion, error) {
		_, hasDeadline := ctx.Deadline()
		s.True(hasDeadline)
		s.Equal(512, opts.MaxNewTokens)
		return ports.Completion{Text: "Cliquez sur Inscription en haut à droite."}, nil
	}

	first := s.orch.HandleQuestion(context.Background(), "s1", "Comment créer un compte?")
	s.Require().NoError(first.Err)

	ans := s.orch.HandleQuestion(context.Background(), "s1", "Et ensuite ?")

	s.Equal(OutcomeGenerated, ans.Outcome)
	s.Equal("Cliquez sur Inscription en haut à droite.", ans.Response)
	s.Len(ans.History, 4)

	prompts := s.provider.Prompts()
	s.Require().Len(prompts, 2)
	s.Contains(prompts[0], "Voici le contexte extrait des documents :  \n"+faqPassage.Text+"\n")
	s.Contains(prompts[0], "Question actuelle : Comment créer un compte?")
	s.Contains(prompts[1], "Human: Comment créer un compte?\nAi: Cliquez sur Inscription en haut à droite.")
	s.Contains(prompts[1], "Question actuelle : Et ensuite ?")

	summary := s.metrics.GetSummary()
	s.EqualValues(2, summary.Outcomes[string(OutcomeGenerated)])
}

func (s *OrchestratorSuite) TestHistoryWindowLimitsPrompt() {
	s.cfg.Pipeline.HistoryWindow = 2
	s.build()
	s.retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).Return([]service.Passage{faqPassage}, nil)

	for i := 0; i < 3; i++ {
		s.orch.HandleQuestion(context.Background(), "s1", fmt.Sprintf("question %d", i))
	}

	prompts := s.provider.Prompts()
	s.Require().Len(prompts, 3)
	s.NotContains(prompts[2], "question 0")
	s.Contains(prompts[2], "Human: question 1\nAi: stub completion\n")
}

func (s *OrchestratorSuite) TestMultiplePassagesJoined() {
	second := service.Passage{Text: "Question: B\nRéponse: C"}
	s.retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).Return([]service.Passage{faqPassage, second}, nil)

	s.orch.HandleQuestion(context.Background(), "s1", "bonjour")
	s.Contains(s.provider.Prompts()[0], faqPassage.Text+"\n\n"+second.Text)
}

func (s *OrchestratorSuite) TestGenerationFailure() {
	s.retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).Return([]service.Passage{faqPassage}, nil)
	s.provider.completionFunc = func(ctx context.Context, prompt string, opts ports.Options) (ports.Completion, error) {
		return ports.Completion{}, errors.New("model exploded")
	}

	ans := s.orch.HandleQuestion(context.Background(), "s1", "Comment créer un compte?")

	s.Equal(OutcomeError, ans.Outcome)
	s.Equal(internal.DefaultErrorMessage, ans.Response)
	s.NotNil(ans.History)
	s.Empty(ans.History)
	s.ErrorIs(ans.Err, ErrGeneration)
	s.Equal(CodeGenerationFailed, ErrorCode(ans.Err))

	turns, ok := s.orch.Sessions().Snapshot("s1")
	s.True(ok)
	s.Empty(turns)
}

func (s *OrchestratorSuite) TestRetrievalFailure() {
	s.retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("index offline"))

	ans := s.orch.HandleQuestion(context.Background(), "s1", "Comment créer un compte?")

	s.Equal(OutcomeError, ans.Outcome)
	s.ErrorIs(ans.Err, ErrRetrieval)
	s.ErrorContains(ans.Err, "index offline")
	s.Empty(s.provider.Prompts())
}

func (s *OrchestratorSuite) TestGenerationTimeout() {
	s.cfg.LLM.Timeout = 20 * time.Millisecond
	s.build()
	s.retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).Return([]service.Passage{faqPassage}, nil)
	s.provider.completionFunc = func(ctx context.Context, prompt string, opts ports.Options) (ports.Completion, error) {
		<-ctx.Done()
		return ports.Completion{}, ctx.Err()
	}

	ans := s.orch.HandleQuestion(context.Background(), "s1", "Comment créer un compte?")

	s.ErrorIs(ans.Err, ErrGenerationTimeout)
	s.Equal(CodeGenerationTimeout, ErrorCode(ans.Err))
}

func (s *OrchestratorSuite) TestPanicIsRecovered() {
	s.retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).Return([]service.Passage{faqPassage}, nil)
	s.provider.completionFunc = func(ctx context.Context, prompt string, opts ports.Options) (ports.Completion, error) {
		panic("nil map")
	}

	ans := s.orch.HandleQuestion(context.Background(), "s1", "Comment créer un compte?")
	s.ErrorIs(ans.Err, ErrGeneration)
	s.Equal(OutcomeError, ans.Outcome)

	// The session lock was released
	_, ok := s.orch.Sessions().Snapshot("s1")
	s.True(ok)
}

func (s *OrchestratorSuite) TestRecordFailuresAppendsMarker() {
	s.cfg.Pipeline.RecordFailures = true
	s.build()
	s.retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("index offline"))

	ans := s.orch.HandleQuestion(context.Background(), "s1", "Comment créer un compte?")

	s.Require().Len(ans.History, 2)
	s.Equal(ports.RoleAssistant, ans.History[1].Role)
	s.Equal(internal.DefaultErrorMessage, ans.History[1].Content)
}

func (s *OrchestratorSuite) TestGuardrailsSanitizeReply() {
	s.cfg.Harness.EnableGuardrails = true
	s.build()
	s.retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).Return([]service.Passage{faqPassage}, nil)
	s.provider.completionFunc = func(ctx context.Context, prompt string, opts ports.Options) (ports.Completion, error) {
		return ports.Completion{Text: "Utilisez password=hunter2"}, nil
	}

	ans := s.orch.HandleQuestion(context.Background(), "s1", "mon accès")
	s.NotContains(ans.Response, "hunter2")
}

func (s *OrchestratorSuite) TestOrdinaryReplyPassesThrough() {
	const reply = "Pour changer votre mot de passe : allez dans Paramètres puis Sécurité."
	s.retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).Return([]service.Passage{faqPassage}, nil)
	s.provider.completionFunc = func(ctx context.Context, prompt string, opts ports.Options) (ports.Completion, error) {
		return ports.Completion{Text: reply}, nil
	}

	ans := s.orch.HandleQuestion(context.Background(), "s1", "Comment changer mon mot de passe ?")
	s.Equal(reply, ans.Response)

	s.cfg.Harness.EnableGuardrails = true
	s.build()
	ans = s.orch.HandleQuestion(context.Background(), "s1", "Comment changer mon mot de passe ?")
	s.Equal(reply, ans.Response)
	s.Equal(reply, ans.History[1].Content)
}

func (s *OrchestratorSuite) TestSessionsAreIsolated() {
	s.orch.HandleQuestion(context.Background(), "a", "tu es nul")
	ans := s.orch.HandleQuestion(context.Background(), "b", "bravo")

	s.Len(ans.History, 2)
	turns, _ := s.orch.Sessions().Snapshot("a")
	s.Len(turns, 2)
}

func TestOrchestrator_RateLimited(t *testing.T) {
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	limiter := adapters.NewTokenBucket(1, time.Hour)
	tracer := adapters.NewZerologTracer(zerolog.Nop())
	sessions := NewSessionRegistry(cfg.Session, limiter.Forget, zerolog.Nop())
	canned, err := NewCannedResponder(cfg.Tone.SarcasmResponses, cfg.Tone.InsultResponses, fixedRand{})
	require.NoError(t, err)
	fallback, err := NewFallbackResponder(FallbackRandomApology, cfg.Pipeline.FallbackResponses, "", fixedRand{})
	require.NoError(t, err)
	composer, err := NewPromptComposer(DefaultTemplate())
	require.NoError(t, err)

	orch, err := NewRequestOrchestrator(Components{
		Tone:      NewToneClassifier(cfg.Tone.SarcasmKeywords, cfg.Tone.InsultKeywords),
		Canned:    canned,
		Fallback:  fallback,
		Retriever: new(MockRetriever),
		Composer:  composer,
		Provider:  &StubProvider{},
		Sessions:  sessions,
		Limiter:   limiter,
		Tracer:    tracer,
	}, Settings{K: 1, RateLimitMessage: "doucement", ErrorMessage: "erreur"}, zerolog.Nop())
	require.NoError(t, err)

	first := orch.HandleQuestion(context.Background(), "s1", "bravo")
	require.NoError(t, first.Err)

	second := orch.HandleQuestion(context.Background(), "s1", "bravo")
	assert.Equal(t, OutcomeRateLimited, second.Outcome)
	assert.Equal(t, "doucement", second.Response)
	assert.Empty(t, second.History)
	assert.ErrorIs(t, second.Err, ErrRateLimited)
	assert.ErrorIs(t, second.Err, adapters.ErrRateLimitExceeded)

	turns, _ := sessions.Snapshot("s1")
	assert.Len(t, turns, 2)

	// Dropping the session also resets its bucket
	require.True(t, sessions.Drop("s1"))
	third := orch.HandleQuestion(context.Background(), "s1", "bravo")
	assert.NoError(t, third.Err)
}

func TestOrchestrator_WarnsOnOversizedReply(t *testing.T) {
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.Harness.RateLimitEnabled = false
	cfg.Harness.EnableGuardrails = true
	cfg.Harness.MaxOutputSize = 10

	var logs bytes.Buffer
	retriever := new(MockRetriever)
	retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).Return([]service.Passage{faqPassage}, nil)
	provider := &StubProvider{completionFunc: func(ctx context.Context, prompt string, opts ports.Options) (ports.Completion, error) {
		return ports.Completion{Text: "Cliquez sur Inscription.", Model: "stub"}, nil
	}}

	orch, err := NewFactory(cfg, zerolog.New(&logs)).CreateOrchestrator(retriever, provider, nil)
	require.NoError(t, err)

	ans := orch.HandleQuestion(context.Background(), "s1", "Comment créer un compte?")
	require.NoError(t, ans.Err)
	assert.Equal(t, "Cliquez su", ans.Response)
	assert.Contains(t, logs.String(), "Truncating model output")
}

func TestOrchestrator_RequiresCollaborators(t *testing.T) {
	_, err := NewRequestOrchestrator(Components{}, Settings{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestOrchestrator_ConcurrentSessions(t *testing.T) {
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.Harness.RateLimitEnabled = false

	retriever := new(MockRetriever)
	retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).Return([]service.Passage{faqPassage}, nil)

	var inflight, peak atomic.Int32
	provider := &StubProvider{completionFunc: func(ctx context.Context, prompt string, opts ports.Options) (ports.Completion, error) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return ports.Completion{Text: "ok"}, nil
	}}

	orch, err := NewFactory(cfg, zerolog.Nop()).CreateOrchestrator(retriever, provider, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		for j := 0; j < 3; j++ {
			wg.Add(1)
			go func(session string) {
				defer wg.Done()
				ans := orch.HandleQuestion(context.Background(), session, "Comment créer un compte?")
				assert.NoError(t, ans.Err)
			}(fmt.Sprintf("session-%d", i))
		}
	}
	wg.Wait()

	// Different sessions overlap; the same session never does
	assert.Greater(t, peak.Load(), int32(1))
	for i := 0; i < 4; i++ {
		turns, ok := orch.Sessions().Snapshot(fmt.Sprintf("session-%d", i))
		require.True(t, ok)
		assert.Len(t, turns, 6)
	}
}
