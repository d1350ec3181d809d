package directory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// countingGateway records how often the backing directory was hit.
type countingGateway struct {
	members map[string]Member
	calls   int
}

func (g *countingGateway) ResolveMember(_ context.Context, idOrEmail string) (Member, error) {
	g.calls++
	member, ok := g.members[idOrEmail]
	if !ok {
		return Member{}, ErrNotFound
	}
	return member, nil
}

func (g *countingGateway) ListMembers(context.Context, string) ([]Member, error) {
	g.calls++
	return nil, nil
}

func setupCache(t *testing.T, ttl time.Duration) (*RedisCache, *countingGateway, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	next := &countingGateway{members: map[string]Member{
		"user-1": {ID: "user-1", NamespaceID: "ns-1", Email: "u1@acme.test", DisplayName: "User One", EmailNotifications: true},
	}}
	next.members["u1@acme.test"] = next.members["user-1"]
	return NewRedisCacheWithClient(client, next, ttl), next, s
}

func TestResolveMemberCachesLookups(t *testing.T) {
	cache, next, s := setupCache(t, time.Minute)
	defer s.Close()

	ctx := context.Background()

	member, err := cache.ResolveMember(ctx, "user-1")
	if err != nil {
		t.Fatalf("ResolveMember: %v", err)
	}
	if member.Email != "u1@acme.test" {
		t.Errorf("unexpected member: %+v", member)
	}
	if next.calls != 1 {
		t.Fatalf("expected 1 backend call, got %d", next.calls)
	}

	// Second lookup is served from the cache.
	member, err = cache.ResolveMember(ctx, "user-1")
	if err != nil {
		t.Fatalf("ResolveMember (cached): %v", err)
	}
	if member.ID != "user-1" || !member.EmailNotifications {
		t.Errorf("cached member lost fields: %+v", member)
	}
	if next.calls != 1 {
		t.Errorf("expected cached hit, backend called %d times", next.calls)
	}
}

func TestResolveMemberExpiresWithTTL(t *testing.T) {
	cache, next, s := setupCache(t, time.Second)
	defer s.Close()

	ctx := context.Background()
	if _, err := cache.ResolveMember(ctx, "user-1"); err != nil {
		t.Fatalf("ResolveMember: %v", err)
	}

	s.FastForward(2 * time.Second)

	if _, err := cache.ResolveMember(ctx, "user-1"); err != nil {
		t.Fatalf("ResolveMember after expiry: %v", err)
	}
	if next.calls != 2 {
		t.Errorf("expected 2 backend calls after TTL expiry, got %d", next.calls)
	}
}

func TestResolveMemberMissDoesNotCache(t *testing.T) {
	cache, next, s := setupCache(t, time.Minute)
	defer s.Close()

	ctx := context.Background()
	if _, err := cache.ResolveMember(ctx, "nobody"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := cache.ResolveMember(ctx, "nobody"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on repeat, got %v", err)
	}
	if next.calls != 2 {
		t.Errorf("misses must not be cached, backend called %d times", next.calls)
	}
}

func TestListMembersBypassesCache(t *testing.T) {
	cache, next, s := setupCache(t, time.Minute)
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := cache.ListMembers(ctx, "ns-1"); err != nil {
			t.Fatalf("ListMembers: %v", err)
		}
	}
	if next.calls != 2 {
		t.Errorf("expected passthrough on every call, got %d backend calls", next.calls)
	}
}
