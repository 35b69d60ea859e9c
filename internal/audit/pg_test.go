package audit_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipgate/clipgate/internal/audit"
	"github.com/clipgate/clipgate/internal/platform/db/dbtest"
)

func TestPGInsertIfBelowIsAtomicUnderContention(t *testing.T) {
	repo := audit.NewPGRepository(dbtest.Postgres(t))
	base := time.Now().UTC().Truncate(time.Microsecond)
	log := audit.NewLog(repo, audit.WithClock(func() time.Time { return base }), audit.WithTimeout(30*time.Second))
	user := uuid.NewString() + "@x.com"

	const limit = 10
	const callers = 25
	var admitted atomic.Int32
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, adm, err := log.AppendIfBelow(context.Background(), audit.Entry{Operation: "video_generate", EntityType: "rate_limit", UserEmail: user}, base.Add(-time.Hour), limit)
			if err != nil {
				errs <- err
				return
			}
			if adm.Admitted {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.EqualValues(t, limit, admitted.Load())
	count, err := repo.CountSince(context.Background(), "video_generate", user, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, limit, count)
}

func TestPGEntriesAreImmutable(t *testing.T) {
	pool := dbtest.Postgres(t)
	repo := audit.NewPGRepository(pool)
	ctx := context.Background()
	entry := audit.Entry{
		ID:         uuid.NewString(),
		Operation:  "email_sent",
		EntityType: "email",
		EntityID:   "e1",
		UserEmail:  uuid.NewString() + "@x.com",
		Status:     audit.StatusSuccess,
		Metadata:   map[string]any{},
		CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, repo.Insert(ctx, entry))

	_, err := pool.Exec(ctx, `UPDATE audit_log SET status = 'failed' WHERE id::text = $1`, entry.ID)
	assert.Error(t, err)
	_, err = pool.Exec(ctx, `DELETE FROM audit_log WHERE id::text = $1`, entry.ID)
	assert.Error(t, err)

	got, err := repo.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, audit.StatusSuccess, got.Status)
	assert.Equal(t, entry.CreatedAt, got.CreatedAt)
}
