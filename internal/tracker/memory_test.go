package tracker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gallery-pipeline/internal/models"
)

func TestMemoryTracker_Lifecycle(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker(time.Hour, 0)

	status, err := tr.Status(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnknown, status)

	require.NoError(t, tr.Start(ctx, "job-1"))
	assert.ErrorIs(t, tr.Start(ctx, "job-1"), ErrExists)

	status, _ = tr.Status(ctx, "job-1")
	assert.Equal(t, models.StatusProcessing, status)

	require.NoError(t, tr.Finish(ctx, "job-1", models.StatusCompleted))
	status, _ = tr.Status(ctx, "job-1")
	assert.Equal(t, models.StatusCompleted, status)
}

func TestMemoryTracker_FinishRejectsNonTerminal(t *testing.T) {
	tr := NewMemoryTracker(time.Hour, 0)
	require.NoError(t, tr.Start(context.Background(), "a"))
	assert.Error(t, tr.Finish(context.Background(), "a", models.StatusProcessing))
	assert.Error(t, tr.Finish(context.Background(), "a", models.StatusUnknown))
}

func TestMemoryTracker_TerminalStatesAreSticky(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	terminal := []models.JobStatus{models.StatusCompleted, models.StatusFailed}

	for i := 0; i < 1000; i++ {
		tr := NewMemoryTracker(time.Hour, 0)
		id := fmt.Sprintf("job-%d", i)
		require.NoError(t, tr.Start(ctx, id))

		first := terminal[rng.Intn(2)]
		require.NoError(t, tr.Finish(ctx, id, first))

		for j := 0; j < 5; j++ {
			switch rng.Intn(3) {
			case 0:
				assert.ErrorIs(t, tr.Finish(ctx, id, terminal[rng.Intn(2)]), ErrTerminal)
			case 1:
				assert.ErrorIs(t, tr.Start(ctx, id), ErrExists)
			default:
				assert.Error(t, tr.Finish(ctx, id, models.StatusProcessing))
			}
			status, err := tr.Status(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, first, status)
		}
	}
}

func TestMemoryTracker_ConcurrentJobs(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker(time.Hour, 0)

	const n = 2000
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("job-%d", i)
			assert.NoError(t, tr.Start(ctx, id))
			status := models.StatusCompleted
			if i%2 == 1 {
				status = models.StatusFailed
			}
			assert.NoError(t, tr.Finish(ctx, id, status))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, tr.Len())
	status, _ := tr.Status(ctx, "job-7")
	assert.Equal(t, models.StatusFailed, status)
}

func TestMemoryTracker_Expiry(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker(50*time.Millisecond, 0)

	require.NoError(t, tr.Start(ctx, "old"))
	status, _ := tr.Status(ctx, "old")
	assert.Equal(t, models.StatusProcessing, status)

	assert.Eventually(t, func() bool {
		status, _ := tr.Status(ctx, "old")
		return status == models.StatusUnknown
	}, 2*time.Second, 5*time.Millisecond)

	// an expired id can be tracked again
	require.NoError(t, tr.Start(ctx, "old"))
	status, _ = tr.Status(ctx, "old")
	assert.Equal(t, models.StatusProcessing, status)
}

func TestMemoryTracker_ExpiredTerminalCanBeRecordedAgain(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker(50*time.Millisecond, 0)

	require.NoError(t, tr.Finish(ctx, "job", models.StatusCompleted))
	assert.ErrorIs(t, tr.Finish(ctx, "job", models.StatusFailed), ErrTerminal)

	assert.Eventually(t, func() bool {
		status, _ := tr.Status(ctx, "job")
		return status == models.StatusUnknown
	}, 2*time.Second, 5*time.Millisecond)
	assert.NoError(t, tr.Finish(ctx, "job", models.StatusFailed))
}

func TestMemoryTracker_CapacityEvictsOldest(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker(0, 3)

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, tr.Start(ctx, id))
	}

	assert.Equal(t, 3, tr.Len())
	status, _ := tr.Status(ctx, "a")
	assert.Equal(t, models.StatusUnknown, status)
	status, _ = tr.Status(ctx, "d")
	assert.Equal(t, models.StatusProcessing, status)
}

func TestMemoryTracker_FinishUntrackedRecordsStatus(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker(time.Hour, 0)

	require.NoError(t, tr.Finish(ctx, "lost", models.StatusFailed))
	status, _ := tr.Status(ctx, "lost")
	assert.Equal(t, models.StatusFailed, status)
}

func TestMemoryTracker_ExpiredEntriesAreCollected(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker(20*time.Millisecond, 0)
	for i := 0; i < 10; i++ {
		require.NoError(t, tr.Start(ctx, fmt.Sprintf("job-%d", i)))
	}

	assert.Eventually(t, func() bool { return tr.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestMemoryTracker_StatusDoesNotRefreshRecency(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker(0, 2)

	require.NoError(t, tr.Start(ctx, "a"))
	require.NoError(t, tr.Start(ctx, "b"))
	_, _ = tr.Status(ctx, "a")
	require.NoError(t, tr.Start(ctx, "c"))

	status, _ := tr.Status(ctx, "a")
	assert.Equal(t, models.StatusUnknown, status)
	status, _ = tr.Status(ctx, "b")
	assert.Equal(t, models.StatusProcessing, status)
}
