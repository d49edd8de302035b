package refreshtokens

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/taskhive/taskhive/internal/common"
	"github.com/taskhive/taskhive/internal/server/models"
)

func newRedisRepo(t *testing.T) (*RedisRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisRepository(client), mr
}

func TestRedisSaveAndFind(t *testing.T) {
	repo, _ := newRedisRepo(t)
	ctx := context.Background()

	rec := &models.RefreshToken{
		TokenID:   "token-1",
		UserID:    9,
		TokenHash: "deadbeef",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	got, err := repo.Find(ctx, "token-1")
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if got.UserID != 9 || got.TokenHash != "deadbeef" {
		t.Fatalf("record mismatch: %+v", got)
	}
}

func TestRedisFind_NotFound(t *testing.T) {
	repo, _ := newRedisRepo(t)

	_, err := repo.Find(context.Background(), "absent")
	if err != common.ErrorNotFound {
		t.Fatalf("expected common.ErrorNotFound, got %v", err)
	}
}

func TestRedisRotate_ReplacesRecord(t *testing.T) {
	repo, _ := newRedisRepo(t)
	ctx := context.Background()

	old := &models.RefreshToken{TokenID: "old", UserID: 1, TokenHash: "h1", ExpiresAt: time.Now().Add(time.Hour)}
	if err := repo.Save(ctx, old); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	next := &models.RefreshToken{TokenID: "new", UserID: 1, TokenHash: "h2", ExpiresAt: time.Now().Add(2 * time.Hour)}
	if err := repo.Rotate(ctx, "old", next); err != nil {
		t.Fatalf("Rotate error: %v", err)
	}

	if _, err := repo.Find(ctx, "old"); err != common.ErrorNotFound {
		t.Fatalf("superseded record still present: %v", err)
	}
	got, err := repo.Find(ctx, "new")
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if got.TokenHash != "h2" {
		t.Fatalf("record mismatch: %+v", got)
	}
}

func TestRedisRecordExpiresWithTTL(t *testing.T) {
	repo, mr := newRedisRepo(t)
	ctx := context.Background()

	rec := &models.RefreshToken{TokenID: "short", UserID: 1, TokenHash: "h", ExpiresAt: time.Now().Add(time.Second)}
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	mr.FastForward(2 * time.Second)

	if _, err := repo.Find(ctx, "short"); err != common.ErrorNotFound {
		t.Fatalf("expected record to expire, got %v", err)
	}
}

func TestRedisDelete_Idempotent(t *testing.T) {
	repo, _ := newRedisRepo(t)
	ctx := context.Background()

	if err := repo.Delete(ctx, "never-existed"); err != nil {
		t.Fatalf("Delete of absent record should not fail: %v", err)
	}
}

func TestRedisDeleteByUser_RevokesAllSessions(t *testing.T) {
	repo, _ := newRedisRepo(t)
	ctx := context.Background()

	exp := time.Now().Add(time.Hour)
	for _, id := range []string{"a", "b", "c"} {
		if err := repo.Save(ctx, &models.RefreshToken{TokenID: id, UserID: 7, TokenHash: "h-" + id, ExpiresAt: exp}); err != nil {
			t.Fatalf("Save error: %v", err)
		}
	}
	other := &models.RefreshToken{TokenID: "other", UserID: 8, TokenHash: "h-other", ExpiresAt: exp}
	if err := repo.Save(ctx, other); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	if err := repo.DeleteByUser(ctx, 7); err != nil {
		t.Fatalf("DeleteByUser error: %v", err)
	}

	for _, id := range []string{"a", "b", "c"} {
		if _, err := repo.Find(ctx, id); err != common.ErrorNotFound {
			t.Fatalf("record %q survived revocation: %v", id, err)
		}
	}
	if _, err := repo.Find(ctx, "other"); err != nil {
		t.Fatalf("unrelated user's record was revoked: %v", err)
	}
}

func TestRedisDeleteByUser_TracksRotation(t *testing.T) {
	repo, _ := newRedisRepo(t)
	ctx := context.Background()

	exp := time.Now().Add(time.Hour)
	if err := repo.Save(ctx, &models.RefreshToken{TokenID: "old", UserID: 7, TokenHash: "h1", ExpiresAt: exp}); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if err := repo.Rotate(ctx, "old", &models.RefreshToken{TokenID: "new", UserID: 7, TokenHash: "h2", ExpiresAt: exp}); err != nil {
		t.Fatalf("Rotate error: %v", err)
	}

	if err := repo.DeleteByUser(ctx, 7); err != nil {
		t.Fatalf("DeleteByUser error: %v", err)
	}
	if _, err := repo.Find(ctx, "new"); err != common.ErrorNotFound {
		t.Fatalf("rotated record survived revocation: %v", err)
	}
}

func TestRedisDeleteByUser_NoSessions(t *testing.T) {
	repo, _ := newRedisRepo(t)

	if err := repo.DeleteByUser(context.Background(), 42); err != nil {
		t.Fatalf("DeleteByUser with no sessions should not fail: %v", err)
	}
}
