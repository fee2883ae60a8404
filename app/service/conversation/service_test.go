package conversation

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"serena/app/config"
	"serena/app/service/entitlement"
	"serena/app/service/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu        sync.Mutex
	delivered []string
	planCalls int
	failures  int
}

func (f *fakeTransport) Deliver(_, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failures > 0 {
		f.failures--
		return errors.New("transport unavailable")
	}

	f.delivered = append(f.delivered, text)
	return nil
}

func (f *fakeTransport) DeliverPlans(_, _ string, _ []config.Plan) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.planCalls++
	return nil
}

func (f *fakeTransport) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.delivered))
	copy(out, f.delivered)
	return out
}

func (f *fakeTransport) plans() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.planCalls
}

type fakeCompleter struct {
	mu               sync.Mutex
	reply            string
	err              error
	summary          string
	lastSystemPrompt string
}

func (f *fakeCompleter) Complete(_ context.Context, systemPrompt string, _ []Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastSystemPrompt = systemPrompt
	return f.reply, f.err
}

func (f *fakeCompleter) Summarize(context.Context, []Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.summary, nil
}

func (f *fakeCompleter) systemPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.lastSystemPrompt
}

type fakeMood struct {
	mood string
}

func (f *fakeMood) Classify(context.Context, string) (string, error) {
	return f.mood, nil
}

type fixture struct {
	svc       *Service
	transport *fakeTransport
	completer *fakeCompleter
	store     *entitlement.FileStore
	quota     *entitlement.Quota
}

func newFixture(t *testing.T, mood MoodClassifier, idle, followUp time.Duration) *fixture {
	t.Helper()

	store, err := entitlement.NewFileStore(filepath.Join(t.TempDir(), "users.jsonl"))
	require.NoError(t, err)

	quota := entitlement.NewQuota(store, 5)
	sessions := session.NewService(idle, followUp)
	t.Cleanup(func() { _ = sessions.Shutdown() })

	transport := &fakeTransport{}
	completer := &fakeCompleter{reply: "I hear you."}

	cfg := &config.Config{
		Plans: []config.Plan{
			{Title: "Weekly plan", URL: "https://example.com/weekly", DurationDays: 7},
		},
	}

	return &fixture{
		svc:       NewService(cfg, transport, completer, mood, quota, sessions),
		transport: transport,
		completer: completer,
		store:     store,
		quota:     quota,
	}
}

func (f *fixture) freeUsed(t *testing.T) int {
	t.Helper()

	rec, _, err := f.store.Get(context.Background(), "u1")
	require.NoError(t, err)
	return rec.FreeUsed
}

func TestProcessTurn_RepliesAndCharges(t *testing.T) {
	f := newFixture(t, nil, time.Hour, time.Hour)

	err := f.svc.ProcessTurn(context.Background(), "u1", "hello", time.Now())
	require.NoError(t, err)

	assert.Equal(t, []string{"I hear you."}, f.transport.messages())
	assert.Equal(t, 1, f.freeUsed(t))
}

func TestProcessTurn_DeniedOffersPlans(t *testing.T) {
	f := newFixture(t, nil, time.Hour, time.Hour)

	_, err := f.store.Update(context.Background(), "u1", func(rec *entitlement.UserRecord) {
		rec.FreeUsed = 5
	})
	require.NoError(t, err)

	err = f.svc.ProcessTurn(context.Background(), "u1", "hello", time.Now())
	require.NoError(t, err)

	assert.Equal(t, 1, f.transport.plans())
	assert.Empty(t, f.transport.messages())
	assert.Equal(t, 5, f.freeUsed(t))
}

func TestProcessTurn_LastFreeTurnThenDenied(t *testing.T) {
	f := newFixture(t, nil, time.Hour, time.Hour)
	ctx := context.Background()

	_, err := f.store.Update(ctx, "u1", func(rec *entitlement.UserRecord) {
		rec.FreeUsed = 4
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.ProcessTurn(ctx, "u1", "hello", time.Now()))
	assert.Equal(t, 5, f.freeUsed(t))

	require.NoError(t, f.svc.ProcessTurn(ctx, "u1", "hello again", time.Now()))
	assert.Equal(t, 1, f.transport.plans())
	assert.Equal(t, 5, f.freeUsed(t))
}

func TestProcessTurn_SubscriberNotCharged(t *testing.T) {
	f := newFixture(t, nil, time.Hour, time.Hour)
	ctx := context.Background()

	require.NoError(t, f.quota.Grant(ctx, "u1", time.Now().Add(-time.Hour), 30))

	require.NoError(t, f.svc.ProcessTurn(ctx, "u1", "hello", time.Now()))

	assert.Equal(t, []string{"I hear you."}, f.transport.messages())
	assert.Equal(t, 0, f.freeUsed(t))
}

func TestProcessTurn_CompletionFailureNotCharged(t *testing.T) {
	f := newFixture(t, nil, time.Hour, time.Hour)
	f.completer.err = errors.New("provider quota exceeded")

	err := f.svc.ProcessTurn(context.Background(), "u1", "hello", time.Now())
	require.Error(t, err)

	assert.Equal(t, []string{apologyMessage}, f.transport.messages())
	assert.Equal(t, 0, f.freeUsed(t))
}

func TestProcessTurn_LongReplyChunked(t *testing.T) {
	f := newFixture(t, nil, time.Hour, time.Hour)
	f.completer.reply = strings.Repeat("a", 3000) + "\n\n" + strings.Repeat("b", 3000)

	err := f.svc.ProcessTurn(context.Background(), "u1", "hello", time.Now())
	require.NoError(t, err)

	messages := f.transport.messages()
	require.Len(t, messages, 2)
	assert.Equal(t, strings.Repeat("a", 3000), messages[0])
	assert.Equal(t, strings.Repeat("b", 3000), messages[1])
	assert.Equal(t, 1, f.freeUsed(t), "one turn is one charge regardless of chunk count")
}

func TestProcessTurn_TransportRetrySucceeds(t *testing.T) {
	f := newFixture(t, nil, time.Hour, time.Hour)
	f.transport.failures = 1

	err := f.svc.ProcessTurn(context.Background(), "u1", "hello", time.Now())
	require.NoError(t, err)

	assert.Equal(t, []string{"I hear you."}, f.transport.messages())
	assert.Equal(t, 1, f.freeUsed(t))
}

func TestProcessTurn_UndeliveredTurnNotCharged(t *testing.T) {
	f := newFixture(t, nil, time.Hour, time.Hour)
	f.transport.failures = 10

	err := f.svc.ProcessTurn(context.Background(), "u1", "hello", time.Now())
	require.Error(t, err)

	assert.Empty(t, f.transport.messages())
	assert.Equal(t, 0, f.freeUsed(t))
}

func TestProcessTurn_MoodReachesSystemPrompt(t *testing.T) {
	f := newFixture(t, &fakeMood{mood: "anxious"}, time.Hour, time.Hour)

	err := f.svc.ProcessTurn(context.Background(), "u1", "hello", time.Now())
	require.NoError(t, err)

	assert.Contains(t, f.completer.systemPrompt(), "anxious")
}

func TestHandleStart(t *testing.T) {
	f := newFixture(t, nil, time.Hour, time.Hour)

	err := f.svc.HandleStart(context.Background(), "u1")
	require.NoError(t, err)

	messages := f.transport.messages()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "5 free turns")

	_, ok, err := f.store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ok, "start must register the user")
}

func TestHandleExercises(t *testing.T) {
	f := newFixture(t, nil, time.Hour, time.Hour)

	err := f.svc.HandleExercises("u1")
	require.NoError(t, err)

	messages := f.transport.messages()
	require.NotEmpty(t, messages)
	assert.Contains(t, messages[0], "Breathing")
}

func TestInactivityFlow(t *testing.T) {
	f := newFixture(t, nil, 40*time.Millisecond, 40*time.Millisecond)
	f.completer.summary = "We talked about your week."

	err := f.svc.ProcessTurn(context.Background(), "u1", "hello", time.Now())
	require.NoError(t, err)

	time.Sleep(250 * time.Millisecond)

	messages := f.transport.messages()
	require.Len(t, messages, 3)
	assert.Equal(t, "I hear you.", messages[0])
	assert.Equal(t, stillThereMessage, messages[1])
	assert.Equal(t, "We talked about your week.", messages[2])
}

func TestInactivityPromptSuppressedByNewTurn(t *testing.T) {
	f := newFixture(t, nil, 200*time.Millisecond, time.Hour)

	ctx := context.Background()
	require.NoError(t, f.svc.ProcessTurn(ctx, "u1", "hello", time.Now()))

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, f.svc.ProcessTurn(ctx, "u1", "more", time.Now()))

	time.Sleep(120 * time.Millisecond)

	// first timer superseded; second has not fired yet
	messages := f.transport.messages()
	assert.Equal(t, []string{"I hear you.", "I hear you."}, messages)
}
