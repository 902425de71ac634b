package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestDeriveKey(t *testing.T) {
	a := DeriveKey(ScopeSearch, map[string]string{"category": "Chrome", "subject": "u1"})
	b := DeriveKey(ScopeSearch, map[string]string{"subject": "u1", "category": "Chrome"})
	if a != b {
		t.Errorf("key depends on map order: %q vs %q", a, b)
	}
	if a != "events:search:category:Chrome|subject:u1" {
		t.Errorf("key = %q", a)
	}

	if got := DeriveKey(ScopeSearch, nil); got != "events:search:" {
		t.Errorf("empty params key = %q", got)
	}
	// Empty values are dropped, not serialized.
	if got := DeriveKey(ScopeSearch, map[string]string{"subject": ""}); got != "events:search:" {
		t.Errorf("empty value key = %q", got)
	}
}

func TestDeriveTags(t *testing.T) {
	tags := DeriveTags(ScopeSearch, map[string]string{
		"subject": "u1", "category": "Chrome", "start": "2026-03-01", "keyword": "boom",
	})
	want := []string{ScopeSearch, "subject:u1", "category:Chrome", TagDateRange, TagSearch}
	if len(tags) != len(want) {
		t.Fatalf("tags = %v", tags)
	}
	for i, tag := range want {
		if tags[i] != tag {
			t.Errorf("tags[%d] = %q, want %q", i, tags[i], tag)
		}
	}

	tags = DeriveTags(ScopeStats, nil)
	if len(tags) != 1 || tags[0] != ScopeStats {
		t.Errorf("bare scope tags = %v", tags)
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	c := New(NewMemoryStore(), "errsight")
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k1", map[string]int{"n": 7}, time.Minute, []string{"t1", "t1", ""}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	res, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !res.Hit {
		t.Fatal("expected a hit")
	}
	var decoded map[string]int
	if err := json.Unmarshal(res.Value, &decoded); err != nil || decoded["n"] != 7 {
		t.Errorf("value = %s (err %v)", res.Value, err)
	}
	if len(res.Tags) != 1 || res.Tags[0] != "t1" {
		t.Errorf("tags not deduped: %v", res.Tags)
	}

	res, err = c.Get(ctx, "k-missing")
	if err != nil {
		t.Fatalf("Get miss: %v", err)
	}
	if res.Hit {
		t.Error("expected a miss")
	}
}

func TestGetExpiresLazily(t *testing.T) {
	now := time.Now()
	c := New(NewMemoryStore(), "errsight", WithClock(func() time.Time { return now }))
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k1", "v", time.Second, nil); err != nil {
		t.Fatalf("Set: %v", err)
	}

	res, _ := c.Get(ctx, "k1")
	if !res.Hit {
		t.Fatal("fresh entry should hit")
	}

	now = now.Add(2 * time.Second)
	res, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.Hit {
		t.Error("expired entry should miss")
	}
}

func TestInvalidateKey(t *testing.T) {
	c := New(NewMemoryStore(), "errsight")
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k1", "v", time.Minute, []string{"t1"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.InvalidateKey(ctx, "k1"); err != nil {
		t.Fatalf("InvalidateKey: %v", err)
	}
	if res, _ := c.Get(ctx, "k1"); res.Hit {
		t.Error("entry survived invalidation")
	}

	// The tag set keeps the stale member; invalidating the tag later
	// must still succeed with nothing left to delete.
	inv, err := c.InvalidateTags(ctx, "t1")
	if err != nil {
		t.Fatalf("InvalidateTags: %v", err)
	}
	if inv.Invalidated != 0 || len(inv.AffectedKeys) != 1 {
		t.Errorf("inv = %+v", inv)
	}
}

func TestInvalidateTags(t *testing.T) {
	c := New(NewMemoryStore(), "errsight")
	defer c.Close()
	ctx := context.Background()

	ch, cancel, err := c.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	// Two entries share the search tag, one belongs to a subject too.
	if err := c.Set(ctx, "s1", "a", time.Minute, []string{TagSearch, "subject:u1"}); err != nil {
		t.Fatalf("Set s1: %v", err)
	}
	if err := c.Set(ctx, "s2", "b", time.Minute, []string{TagSearch}); err != nil {
		t.Fatalf("Set s2: %v", err)
	}
	if err := c.Set(ctx, "other", "c", time.Minute, []string{"subject:u2"}); err != nil {
		t.Fatalf("Set other: %v", err)
	}

	inv, err := c.InvalidateTags(ctx, TagSearch, "subject:u1")
	if err != nil {
		t.Fatalf("InvalidateTags: %v", err)
	}
	if inv.Invalidated != 2 || len(inv.AffectedKeys) != 2 {
		t.Errorf("inv = %+v", inv)
	}

	for key, wantHit := range map[string]bool{"s1": false, "s2": false, "other": true} {
		res, err := c.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get %s: %v", key, err)
		}
		if res.Hit != wantHit {
			t.Errorf("Get %s hit = %v, want %v", key, res.Hit, wantHit)
		}
	}

	select {
	case payload := <-ch:
		var n notice
		if err := json.Unmarshal(payload, &n); err != nil {
			t.Fatalf("decode notice: %v", err)
		}
		if n.Type != "invalidation" || len(n.Tags) != 2 || len(n.Keys) != 2 {
			t.Errorf("notice = %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("no invalidation notice published")
	}
}

func TestMemoryStoreTTL(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.SetWithTTL(ctx, "k", []byte("v"), time.Millisecond); err != nil {
		t.Fatalf("SetWithTTL: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, found, _ := s.Get(ctx, "k"); found {
		t.Error("value survived physical TTL")
	}
}
