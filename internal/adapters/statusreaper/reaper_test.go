package statusreaper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/agent-scheduler/internal/testutil"
)

type fakeRepo struct {
	cutoffs []time.Time
	reset   int64
	err     error
}

func (f *fakeRepo) ResetStaleRunning(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.reset, f.err
}

func TestNewServiceRequiresRepo(t *testing.T) {
	_, err := NewService(Options{})
	assert.Error(t, err)
}

func TestSweepUsesStaleAfterCutoff(t *testing.T) {
	repo := &fakeRepo{reset: 2}
	svc, err := NewService(Options{
		Repo:         repo,
		StaleAfter:   10 * time.Minute,
		TimeProvider: testutil.NewTestTimeProvider(testutil.TestTime()),
	})
	require.NoError(t, err)

	reset, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), reset)

	require.Len(t, repo.cutoffs, 1)
	assert.Equal(t, testutil.TestTime().Add(-10*time.Minute), repo.cutoffs[0])
}

func TestRunStopsOnCancel(t *testing.T) {
	repo := &fakeRepo{}
	svc, err := NewService(Options{
		Repo:     repo,
		Interval: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	// At least the immediate sweep ran.
	assert.NotEmpty(t, repo.cutoffs)
}
