package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
	"github.com/magabrotheeeer/proxy-access-bot/internal/services/ledger"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeChat struct {
	mu      sync.Mutex
	nextID  int
	prompts []string
	deleted []int
}

func (c *fakeChat) Prompt(_ context.Context, _ int64, text string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.prompts = append(c.prompts, text)
	return 100 + c.nextID, nil
}

func (c *fakeChat) Delete(_ context.Context, _ int64, id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, id)
	return nil
}

type fakeDisplay struct {
	shown []Outcome
}

func (d *fakeDisplay) Show(_ context.Context, out Outcome) error {
	d.shown = append(d.shown, out)
	return nil
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) AddEarning(ctx context.Context, userID, label string, amount float64) (*models.Account, error) {
	args := m.Called(ctx, userID, label, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockLedger) SetRate(ctx context.Context, userID string, rate float64) (*models.Account, error) {
	args := m.Called(ctx, userID, rate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockLedger) AdjustDue(ctx context.Context, userID string, action models.DueAction, amount float64) (*models.Account, error) {
	args := m.Called(ctx, userID, action, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockLedger) PreviewPayment(ctx context.Context, userID string, deduction float64) (ledger.Preview, error) {
	args := m.Called(ctx, userID, deduction)
	return args.Get(0).(ledger.Preview), args.Error(1)
}

type MockLifecycle struct {
	mock.Mock
}

func (m *MockLifecycle) Extend(ctx context.Context, userID string, days int) (*models.Account, error) {
	args := m.Called(ctx, userID, days)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockLifecycle) Reduce(ctx context.Context, userID string, days int) (*models.Account, error) {
	args := m.Called(ctx, userID, days)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

type MockAppender struct {
	mock.Mock
}

func (m *MockAppender) Append(ctx context.Context, descriptors ...string) (int, error) {
	args := m.Called(ctx, descriptors)
	return args.Int(0), args.Error(1)
}

type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) Broadcast(ctx context.Context, text string) (int, error) {
	args := m.Called(ctx, text)
	return args.Int(0), args.Error(1)
}

type fixture struct {
	engine      *Engine
	chat        *fakeChat
	display     *fakeDisplay
	ledger      *MockLedger
	lifecycle   *MockLifecycle
	endpoints   *MockAppender
	broadcaster *MockBroadcaster
}

func newFixture() *fixture {
	f := &fixture{
		chat:        &fakeChat{},
		display:     &fakeDisplay{},
		ledger:      new(MockLedger),
		lifecycle:   new(MockLifecycle),
		endpoints:   new(MockAppender),
		broadcaster: new(MockBroadcaster),
	}
	f.engine = New(Deps{
		Ledger:      f.ledger,
		Lifecycle:   f.lifecycle,
		Endpoints:   f.endpoints,
		Broadcaster: f.broadcaster,
		Chat:        f.chat,
		Display:     f.display,
	}, nil, newNoopLogger())
	return f
}

func card() Artifacts {
	return Artifacts{ChatID: 1, CardMessageID: 50}
}

func TestEngine_EarningWorkflow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.engine.Begin(ctx, &AwaitingEarningLabel{Artifacts: card(), Account: "42"}))
	assert.Equal(t, "earning", f.engine.Current().Workflow())

	out, err := f.engine.HandleText(ctx, Message{ChatID: 1, MessageID: 7, Text: " March panel "})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, out.Kind)

	st, ok := f.engine.Current().(*AwaitingEarningAmount)
	require.True(t, ok)
	assert.Equal(t, "March panel", st.Label)
	assert.Equal(t, 50, st.CardMessageID)
	assert.ElementsMatch(t, []int{101, 7}, f.chat.deleted)

	_, err = f.engine.HandleText(ctx, Message{ChatID: 1, MessageID: 8, Text: "ten"})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, still := f.engine.Current().(*AwaitingEarningAmount)
	assert.True(t, still)
	assert.Contains(t, f.chat.prompts[len(f.chat.prompts)-1], "Amount must be a number")

	acc := &models.Account{UserID: "42"}
	f.ledger.On("AddEarning", mock.Anything, "42", "March panel", 7.5).Return(acc, nil).Once()

	out, err = f.engine.HandleText(ctx, Message{ChatID: 1, MessageID: 9, Text: "7.5"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, out.Kind)
	assert.Same(t, acc, out.Account)
	assert.Equal(t, 50, out.CardMessageID)
	assert.Equal(t, Idle{}, f.engine.Current())
	assert.Subset(t, f.chat.deleted, []int{102, 8, 103, 9})
	require.Len(t, f.display.shown, 1)
	f.ledger.AssertExpectations(t)
}

func TestEngine_BeginReplacesPreviousWorkflow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.engine.Begin(ctx, &AwaitingRate{Artifacts: card(), Account: "42"}))
	require.NoError(t, f.engine.Begin(ctx, &AwaitingBroadcast{Artifacts: card()}))

	assert.Equal(t, "broadcast", f.engine.Current().Workflow())
	assert.Equal(t, []int{101}, f.chat.deleted)

	f.broadcaster.On("Broadcast", mock.Anything, "hello all").Return(3, nil).Once()
	out, err := f.engine.HandleText(ctx, Message{ChatID: 1, MessageID: 5, Text: "hello all"})
	require.NoError(t, err)
	assert.Equal(t, "✅ Broadcast sent to 3 users.", out.Text)
	f.ledger.AssertNotCalled(t, "SetRate", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_DeductYieldsConfirmation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.engine.Begin(ctx, &AwaitingDeductAmount{Artifacts: card(), Account: "42"}))

	f.ledger.On("PreviewPayment", mock.Anything, "42", float64(900)).
		Return(ledger.Preview{}, models.ErrExceedsDue).Once()
	_, err := f.engine.HandleText(ctx, Message{ChatID: 1, MessageID: 3, Text: "900"})
	assert.ErrorIs(t, err, models.ErrExceedsDue)
	assert.Equal(t, "deduct", f.engine.Current().Workflow())
	assert.Contains(t, f.chat.prompts[len(f.chat.prompts)-1], "exceeds")

	preview := ledger.Preview{UserID: "42", TotalUSD: 10, Rate: 120, Gross: 1200, Deduction: 300, Net: 900}
	f.ledger.On("PreviewPayment", mock.Anything, "42", float64(300)).Return(preview, nil).Once()
	out, err := f.engine.HandleText(ctx, Message{ChatID: 1, MessageID: 4, Text: "300"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirm, out.Kind)
	require.NotNil(t, out.Preview)
	assert.Equal(t, float64(300), out.Preview.Deduction)
	assert.Equal(t, Idle{}, f.engine.Current())
}

func TestEngine_CommitFailureKeepsState(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.engine.Begin(ctx, &AwaitingDueInput{Artifacts: card(), Account: "42", Action: models.DueAdd}))

	perr := &models.PersistenceError{Op: "storage.Update", Err: errors.New("disk full")}
	f.ledger.On("AdjustDue", mock.Anything, "42", models.DueAdd, float64(50)).Return(nil, perr).Once()

	_, err := f.engine.HandleText(ctx, Message{ChatID: 1, MessageID: 3, Text: "50"})
	assert.ErrorIs(t, err, models.ErrPersistence)
	assert.Equal(t, "due_add", f.engine.Current().Workflow())
	assert.Empty(t, f.display.shown)

	prev, err := f.engine.Cancel(ctx)
	require.NoError(t, err)
	assert.Equal(t, "due_add", prev.Workflow())
	assert.Equal(t, Idle{}, f.engine.Current())
	assert.Contains(t, f.chat.deleted, 101)
}

func TestEngine_DurationValidation(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "zero", input: "0"},
		{name: "negative", input: "-3"},
		{name: "fraction", input: "2.5"},
		{name: "text", input: "week"},
		{name: "empty", input: "   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()
			require.NoError(t, f.engine.Begin(ctx, &AwaitingDurationDays{Artifacts: card(), Account: "42", Action: DurationExtend}))

			_, err := f.engine.HandleText(ctx, Message{ChatID: 1, MessageID: 2, Text: tt.input})
			assert.ErrorIs(t, err, models.ErrValidation)
			assert.Equal(t, "extend", f.engine.Current().Workflow())
			f.lifecycle.AssertNotCalled(t, "Extend", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestEngine_DurationReduce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.engine.Begin(ctx, &AwaitingDurationDays{Artifacts: card(), Account: "42", Action: DurationReduce}))

	f.lifecycle.On("Reduce", mock.Anything, "42", 5).Return(&models.Account{UserID: "42"}, nil).Once()
	out, err := f.engine.HandleText(ctx, Message{ChatID: 1, MessageID: 2, Text: "5"})
	require.NoError(t, err)
	assert.Equal(t, "✅ Subscription reduced by 5 days.", out.Text)
	f.lifecycle.AssertExpectations(t)
}

func TestEngine_EndpointAdd(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.engine.Begin(ctx, &AwaitingEndpointAdd{Artifacts: card()}))

	_, err := f.engine.HandleText(ctx, Message{ChatID: 1, Text: "1.1.1.1:80"})
	assert.ErrorIs(t, err, models.ErrValidation)

	f.endpoints.On("Append", mock.Anything, []string{"1.1.1.1:80:u:p", "2.2.2.2:81:u:p"}).Return(2, nil).Once()
	out, err := f.engine.HandleText(ctx, Message{ChatID: 1, Text: "1.1.1.1:80:u:p,\n2.2.2.2:81:u:p"})
	require.NoError(t, err)
	assert.Equal(t, "✅ Added 2 IP(s).", out.Text)
	f.endpoints.AssertExpectations(t)
}

func TestEngine_ConcurrentTextCommitsOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.engine.Begin(ctx, &AwaitingEarningAmount{Artifacts: card(), Account: "42", Label: "March"}))

	f.ledger.On("AddEarning", mock.Anything, "42", "March", float64(10)).
		After(50*time.Millisecond).
		Return(&models.Account{UserID: "42"}, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.engine.HandleText(ctx, Message{ChatID: 1, MessageID: 10 + i, Text: "10"})
		}()
	}
	wg.Wait()

	f.ledger.AssertNumberOfCalls(t, "AddEarning", 1)
	idle := 0
	for _, err := range errs {
		if errors.Is(err, ErrIdle) {
			idle++
		} else {
			assert.NoError(t, err)
		}
	}
	assert.Equal(t, 1, idle)
	assert.Equal(t, Idle{}, f.engine.Current())
	assert.Len(t, f.display.shown, 1)
}

func TestEngine_IdleIgnoresText(t *testing.T) {
	f := newFixture()
	_, err := f.engine.HandleText(context.Background(), Message{ChatID: 1, Text: "hi"})
	assert.ErrorIs(t, err, ErrIdle)
	assert.Empty(t, f.chat.prompts)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in       string
		positive bool
		want     float64
		wantErr  bool
	}{
		{in: "12.5", positive: true, want: 12.5},
		{in: "$1,200", positive: true, want: 1200},
		{in: "0", positive: false, want: 0},
		{in: "0", positive: true, wantErr: true},
		{in: "-1", positive: false, wantErr: true},
		{in: "NaN", positive: false, wantErr: true},
		{in: "abc", positive: false, wantErr: true},
		{in: "1000000000", positive: false, want: 1e9},
		{in: "1e50", positive: false, wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseAmount(tt.in, tt.positive)
		if tt.wantErr {
			assert.ErrorIs(t, err, models.ErrValidation, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
