package etcd

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"cron-engine/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
)

func TestPageBounds(t *testing.T) {
	tests := []struct {
		name             string
		total, page, max int
		start, end       int
	}{
		{"first page", 45, 1, 20, 0, 20},
		{"last partial page", 45, 3, 20, 40, 45},
		{"past the end", 45, 4, 20, 45, 45},
		{"zero page clamps to first", 10, 0, 5, 0, 5},
		{"zero page size uses default", 30, 1, 0, 0, 20},
		{"empty", 0, 1, 20, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := pageBounds(tt.total, tt.page, tt.max)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.end, end)
		})
	}
}

func TestBucketPrefix(t *testing.T) {
	assert.Equal(t, "/cron-engine/history/trig-1/", bucketPrefix("trig-1"))
	assert.Equal(t, "/cron-engine/history/_direct/", bucketPrefix(""))
	assert.Equal(t, "/cron-engine/triggers/abc", triggerKey("abc"))
}

// The tests below talk to a live etcd named by CRON_ENGINE_TEST_ETCD.
func testEndpoints(t *testing.T) []string {
	t.Helper()
	raw := os.Getenv("CRON_ENGINE_TEST_ETCD")
	if raw == "" {
		t.Skip("CRON_ENGINE_TEST_ETCD not set")
	}
	return strings.Split(raw, ",")
}

func TestEtcdStores_Integration(t *testing.T) {
	cli, err := NewClient(testEndpoints(t), 3*time.Second)
	require.NoError(t, err)
	defer cli.Close()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	t.Run("triggers round trip", func(t *testing.T) {
		repo := NewEtcdTriggerRepository(cli, logger)
		rule := domain.TriggerRule{
			ID:       "it-" + uuid.NewString(),
			Name:     "integration",
			TaskKind: "cleanup",
			Schedule: domain.Interval(domain.UnitMinutes, 1),
			Enabled:  true,
		}
		require.NoError(t, repo.SaveTrigger(ctx, rule))
		defer repo.DeleteTrigger(ctx, rule.ID)

		rules, err := repo.ListTriggers(ctx)
		require.NoError(t, err)
		found := false
		for _, r := range rules {
			if r.ID == rule.ID {
				found = true
				assert.Equal(t, rule.TaskKind, r.TaskKind)
				assert.Equal(t, time.Minute, r.Schedule.Every())
			}
		}
		assert.True(t, found)

		require.NoError(t, repo.DeleteTrigger(ctx, rule.ID))
		rules, err = repo.ListTriggers(ctx)
		require.NoError(t, err)
		for _, r := range rules {
			assert.NotEqual(t, rule.ID, r.ID)
		}
	})

	t.Run("archive pages newest first", func(t *testing.T) {
		archive := NewEtcdExecutionArchive(cli, logger)
		triggerID := "it-" + uuid.NewString()
		defer cli.Delete(ctx, bucketPrefix(triggerID), clientv3.WithPrefix())

		var ids []string
		for i := 0; i < 3; i++ {
			rec := domain.ExecutionRecord{
				ID:         uuid.NewString(),
				TriggerID:  triggerID,
				TaskKind:   "report",
				Status:     domain.JobStatusCompleted,
				FinishedAt: time.Now(),
			}
			require.NoError(t, archive.Save(ctx, rec))
			ids = append(ids, rec.ID)
		}

		page, err := archive.ListByTrigger(ctx, triggerID, 1, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, ids[2], page[0].ID)
		assert.Equal(t, ids[1], page[1].ID)

		page, err = archive.ListByTrigger(ctx, triggerID, 2, 2)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, ids[0], page[0].ID)
	})

	t.Run("second lock is refused", func(t *testing.T) {
		locker := NewEtcdLocker(cli)
		name := "it-" + uuid.NewString()

		lock, err := locker.Lock(ctx, name)
		require.NoError(t, err)

		_, err = locker.Lock(ctx, name)
		assert.ErrorIs(t, err, domain.ErrLockNotAcquired)

		require.NoError(t, lock.Unlock(ctx))
		again, err := locker.Lock(ctx, name)
		require.NoError(t, err)
		require.NoError(t, again.Unlock(ctx))
	})
}
