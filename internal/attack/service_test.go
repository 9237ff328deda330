package attack_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"advsandbox/internal/apperrors"
	"advsandbox/internal/attack"
	"advsandbox/internal/model"
	"advsandbox/internal/store"
	"advsandbox/internal/testutil"
)

// recordingNotifier captures terminal webhook notifications.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []notified
}

type notified struct {
	rec *attack.Record
	url string
}

func (n *recordingNotifier) Notify(rec *attack.Record, callbackURL string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notified{rec: rec, url: callbackURL})
}

func (n *recordingNotifier) snapshot() []notified {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notified(nil), n.calls...)
}

func newService(t *testing.T, loader model.Loader, notifier attack.Notifier) (*attack.Service, attack.RecordStore) {
	t.Helper()
	st := store.NewMemory()
	if loader == nil {
		loader = model.BuiltinLoader()
	}
	cache := model.NewInstanceCache(5, nil)
	svc := attack.NewService(st, cache, loader, notifier, nil, 5*time.Second)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc.Close(ctx)
	})
	return svc, st
}

func waitTerminal(t *testing.T, st attack.RecordStore, id string) *attack.Record {
	t.Helper()
	var rec *attack.Record
	testutil.MustWaitFor(t, func() bool {
		r, err := st.Get(context.Background(), id)
		if err != nil {
			return false
		}
		rec = r
		return r.Terminal()
	})
	return rec
}

func TestLaunchValidation(t *testing.T) {
	svc, _ := newService(t, nil, nil)

	tests := []struct {
		name  string
		req   *attack.LaunchRequest
		field string
	}{
		{
			name:  "missing model id",
			req:   &attack.LaunchRequest{AttackMethodID: "word_swap", InputData: "hello"},
			field: "model_id",
		},
		{
			name:  "missing method id",
			req:   &attack.LaunchRequest{ModelID: "m1", InputData: "hello"},
			field: "attack_method_id",
		},
		{
			name:  "missing input",
			req:   &attack.LaunchRequest{ModelID: "m1", AttackMethodID: "word_swap"},
			field: "input_data",
		},
		{
			name: "input too long",
			req: &attack.LaunchRequest{
				ModelID: "m1", AttackMethodID: "word_swap",
				InputData: strings.Repeat("a", 10001),
			},
			field: "input_data",
		},
		{
			name: "unknown target label",
			req: &attack.LaunchRequest{
				ModelID: "m1", AttackMethodID: "word_swap",
				InputData: "hello", TargetLabel: "Angry",
			},
			field: "target_label",
		},
		{
			name: "callback url bad scheme",
			req: &attack.LaunchRequest{
				ModelID: "m1", AttackMethodID: "word_swap",
				InputData: "hello", CallbackURL: "ftp://example.com/hook",
			},
			field: "callback_url",
		},
		{
			name: "callback url without host",
			req: &attack.LaunchRequest{
				ModelID: "m1", AttackMethodID: "word_swap",
				InputData: "hello", CallbackURL: "http://",
			},
			field: "callback_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Launch(context.Background(), tt.req)
			require.ErrorIs(t, err, apperrors.ErrValidation)
			var appErr *apperrors.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.field, appErr.Field)
		})
	}
}

func TestLaunchUntargetedAttackSucceeds(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, st := newService(t, nil, notifier)

	resp, err := svc.Launch(context.Background(), &attack.LaunchRequest{
		ModelID:        model.DefaultSentimentModel,
		AttackMethodID: "word_swap",
		InputData:      "the movie was great",
		CallbackURL:    "http://example.com/hook",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.JobID, "atk_"))
	assert.Equal(t, "initiated", resp.Status)
	assert.Equal(t, 60, resp.EstimatedCompletionSeconds)

	rec := waitTerminal(t, st, resp.JobID)
	assert.Equal(t, attack.StatusCompleted, rec.Status)
	assert.Equal(t, attack.StageCompleted, rec.Stage)
	assert.Equal(t, attack.ProgressCompleted, rec.Progress)
	assert.Equal(t, "Positive", rec.OriginalPrediction)
	assert.True(t, rec.AttackSuccess, "swapping the only sentiment keyword should flip the label")
	assert.NotEqual(t, rec.OriginalInput, rec.AdversarialExample)
	assert.NotEqual(t, rec.OriginalPrediction, rec.AdversarialPrediction)
	require.NotNil(t, rec.CompletedAt)

	assert.EqualValues(t, len(rec.OriginalInput), rec.PerturbationDetails["original_text_len"])
	assert.Contains(t, rec.PerturbationDetails["diff"], "great")
	assert.Contains(t, rec.Metrics, "attack_time_seconds")

	testutil.MustWaitFor(t, func() bool { return len(notifier.snapshot()) == 1 })
	call := notifier.snapshot()[0]
	assert.Equal(t, "http://example.com/hook", call.url)
	assert.Equal(t, attack.StatusCompleted, call.rec.Status)
}

func TestLaunchTargetedAttack(t *testing.T) {
	svc, st := newService(t, nil, nil)

	// A word swap can drain the sentiment out of the input, so Neutral
	// is reachable as a target.
	resp, err := svc.Launch(context.Background(), &attack.LaunchRequest{
		ModelID:        model.DefaultSentimentModel,
		AttackMethodID: "word_swap",
		InputData:      "the movie was great",
		TargetLabel:    model.LabelNeutral,
	})
	require.NoError(t, err)

	rec := waitTerminal(t, st, resp.JobID)
	assert.Equal(t, attack.StatusCompleted, rec.Status)
	assert.True(t, rec.AttackSuccess)
	assert.Equal(t, model.LabelNeutral, rec.AdversarialPrediction)
}

func TestLaunchTargetedAttackUnreachableTarget(t *testing.T) {
	svc, st := newService(t, nil, nil)

	// No substitution introduces negative vocabulary, so a Negative
	// target cannot be met. The job still completes.
	resp, err := svc.Launch(context.Background(), &attack.LaunchRequest{
		ModelID:        model.DefaultSentimentModel,
		AttackMethodID: "word_swap",
		InputData:      "the movie was great",
		TargetLabel:    model.LabelNegative,
	})
	require.NoError(t, err)

	rec := waitTerminal(t, st, resp.JobID)
	assert.Equal(t, attack.StatusCompleted, rec.Status)
	assert.False(t, rec.AttackSuccess)
	assert.Empty(t, rec.Error)
}

func TestLaunchModelLoadFailure(t *testing.T) {
	notifier := &recordingNotifier{}
	loadErr := errors.New("model weights unavailable")
	loader := model.LoaderFunc(func(ctx context.Context, modelID string) (model.Handle, error) {
		return nil, loadErr
	})
	svc, st := newService(t, loader, notifier)

	resp, err := svc.Launch(context.Background(), &attack.LaunchRequest{
		ModelID:        "broken-model",
		AttackMethodID: "word_swap",
		InputData:      "the movie was great",
		CallbackURL:    "http://example.com/hook",
	})
	require.NoError(t, err, "launch accepts the job before the model loads")

	rec := waitTerminal(t, st, resp.JobID)
	assert.Equal(t, attack.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "model weights unavailable")
	assert.Equal(t, attack.StageInitializing, rec.Stage, "stage at time of failure is preserved")
	require.NotNil(t, rec.CompletedAt, "failure is terminal and carries a completion timestamp")

	testutil.MustWaitFor(t, func() bool { return len(notifier.snapshot()) == 1 })
	assert.Equal(t, attack.StatusFailed, notifier.snapshot()[0].rec.Status)
}

func TestGetStatusProgression(t *testing.T) {
	svc, st := newService(t, nil, nil)

	resp, err := svc.Launch(context.Background(), &attack.LaunchRequest{
		ModelID:        model.DefaultSentimentModel,
		AttackMethodID: "word_swap",
		InputData:      "the movie was great",
	})
	require.NoError(t, err)

	waitTerminal(t, st, resp.JobID)

	status, err := svc.GetStatus(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, resp.JobID, status.ID)
	assert.Equal(t, attack.StatusCompleted, status.Status)
	assert.Equal(t, 100, status.Progress)
	assert.Equal(t, "the movie was great", status.OriginalInput, "status carries the full record")
	assert.NotEmpty(t, status.AdversarialExample)
	require.NotNil(t, status.CompletedAt)
}

func TestGetStatusUnknownJob(t *testing.T) {
	svc, _ := newService(t, nil, nil)
	_, err := svc.GetStatus(context.Background(), "atk_unknown")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGetResultsBeforeCompletion(t *testing.T) {
	release := make(chan struct{})
	loader := model.LoaderFunc(func(ctx context.Context, modelID string) (model.Handle, error) {
		return model.HandleFunc(func(ctx context.Context, input string) (model.Prediction, error) {
			select {
			case <-release:
				return model.Prediction{Label: model.LabelNeutral, Confidence: 0.7}, nil
			case <-ctx.Done():
				return model.Prediction{}, ctx.Err()
			}
		}), nil
	})
	svc, st := newService(t, loader, nil)

	resp, err := svc.Launch(context.Background(), &attack.LaunchRequest{
		ModelID:        "slow-model",
		AttackMethodID: "word_swap",
		InputData:      "the movie was great",
	})
	require.NoError(t, err)

	testutil.MustWaitFor(t, func() bool {
		r, err := st.Get(context.Background(), resp.JobID)
		return err == nil && r.Status == attack.StatusInProgress
	})

	_, err = svc.GetResults(context.Background(), resp.JobID)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	close(release)
	waitTerminal(t, st, resp.JobID)

	rec, err := svc.GetResults(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, attack.StatusCompleted, rec.Status)
}

func TestGetResultsFailedJob(t *testing.T) {
	loader := model.LoaderFunc(func(ctx context.Context, modelID string) (model.Handle, error) {
		return nil, errors.New("model weights unavailable")
	})
	svc, st := newService(t, loader, nil)

	resp, err := svc.Launch(context.Background(), &attack.LaunchRequest{
		ModelID:        "broken-model",
		AttackMethodID: "word_swap",
		InputData:      "the movie was great",
	})
	require.NoError(t, err)

	rec := waitTerminal(t, st, resp.JobID)
	require.Equal(t, attack.StatusFailed, rec.Status)

	// Failed is terminal but carries no results.
	_, err = svc.GetResults(context.Background(), resp.JobID)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

// gatedStore blocks the first Create until released, so tests can hold
// one launch inside the store write.
type gatedStore struct {
	attack.RecordStore
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Create(ctx context.Context, rec *attack.Record) error {
	g.mu.Lock()
	gate := g.armed
	g.armed = false
	g.mu.Unlock()
	if gate {
		close(g.entered)
		<-g.release
	}
	return g.RecordStore.Create(ctx, rec)
}

func TestLaunchNotSerializedOnStoreWrite(t *testing.T) {
	gs := &gatedStore{
		RecordStore: store.NewMemory(),
		armed:       true,
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	cache := model.NewInstanceCache(5, nil)
	svc := attack.NewService(gs, cache, model.BuiltinLoader(), nil, nil, 5*time.Second)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc.Close(ctx)
	})

	req := attack.LaunchRequest{
		ModelID:        model.DefaultSentimentModel,
		AttackMethodID: "word_swap",
		InputData:      "the movie was great",
	}

	firstDone := make(chan error, 1)
	go func() {
		held := req
		_, err := svc.Launch(context.Background(), &held)
		firstDone <- err
	}()
	<-gs.entered

	// A second launch must not wait behind the stalled store write.
	secondDone := make(chan error, 1)
	go func() {
		second := req
		_, err := svc.Launch(context.Background(), &second)
		secondDone <- err
	}()

	select {
	case err := <-secondDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("launch blocked behind an unrelated store write")
	}

	close(gs.release)
	require.NoError(t, <-firstDone)
}

func TestListValidation(t *testing.T) {
	svc, _ := newService(t, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		query attack.ListQuery
		field string
	}{
		{"negative skip", attack.ListQuery{Skip: -1}, "skip"},
		{"limit too large", attack.ListQuery{Limit: 1001}, "limit"},
		{"limit negative", attack.ListQuery{Limit: -5}, "limit"},
		{"unknown sort field", attack.ListQuery{SortBy: "progress; DROP TABLE"}, "sort_by"},
		{"bad sort order", attack.ListQuery{SortOrder: "sideways"}, "sort_order"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.List(ctx, tt.query)
			require.ErrorIs(t, err, apperrors.ErrValidation)
			var appErr *apperrors.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.field, appErr.Field)
		})
	}
}

func TestListDefaults(t *testing.T) {
	svc, st := newService(t, nil, nil)
	ctx := context.Background()

	resp, err := svc.Launch(ctx, &attack.LaunchRequest{
		ModelID:        model.DefaultSentimentModel,
		AttackMethodID: "word_swap",
		InputData:      "the movie was great",
	})
	require.NoError(t, err)
	waitTerminal(t, st, resp.JobID)

	res, err := svc.List(ctx, attack.ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 100, res.Limit)
	assert.Equal(t, 0, res.Offset)
	require.Len(t, res.Records, 1)
	assert.Equal(t, resp.JobID, res.Records[0].ID)
}

func TestCloseRejectsNewLaunches(t *testing.T) {
	svc, _ := newService(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, svc.Close(ctx))

	_, err := svc.Launch(ctx, &attack.LaunchRequest{
		ModelID:        model.DefaultSentimentModel,
		AttackMethodID: "word_swap",
		InputData:      "the movie was great",
	})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestCloseDrainsWorkers(t *testing.T) {
	svc, st := newService(t, nil, nil)
	ctx := context.Background()

	resp, err := svc.Launch(ctx, &attack.LaunchRequest{
		ModelID:        model.DefaultSentimentModel,
		AttackMethodID: "word_swap",
		InputData:      "the movie was great",
	})
	require.NoError(t, err)

	closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, svc.Close(closeCtx))

	// The worker finished before Close returned.
	rec, err := st.Get(ctx, resp.JobID)
	require.NoError(t, err)
	assert.True(t, rec.Terminal())
}
