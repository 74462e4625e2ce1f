//go:build integration

package history

import (
	"context"
	"testing"
	"time"

	"github.com/newtron-network/mactrace/internal/testutil"
	"github.com/newtron-network/mactrace/pkg/trace"
)

const testDB = 11

func newStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	testutil.SkipIfNoRedis(t)
	testutil.FlushDB(t, testDB)
	s := New(testutil.RedisAddr(), "", testDB, ttl)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndLookup(t *testing.T) {
	s := newStore(t, time.Hour)
	ctx := testutil.Context(t)

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	e := NewEntry(sampleResult(), "core-1", time.Now())
	if err := s.Record(ctx, e); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := s.Lookup(ctx, "00:11:22:33:44:55")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got == nil || got.Device != "acc-1" || got.Port != "Gi1/0/7" || len(got.Path) != 2 {
		t.Fatalf("Lookup() = %+v", got)
	}

	ttl, err := s.client.TTL(ctx, key(e.MAC)).Result()
	if err != nil || ttl <= 0 || ttl > time.Hour {
		t.Errorf("TTL = %v, %v; want within an hour", ttl, err)
	}
}

func TestRecordReplaces(t *testing.T) {
	s := newStore(t, time.Hour)
	ctx := testutil.Context(t)

	first := NewEntry(sampleResult(), "core-1", time.Now().Add(-time.Minute))
	if err := s.Record(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := first
	second.Outcome = trace.OutcomeFoundInARP
	second.Path = nil
	second.Device, second.Port, second.VLAN = "core-1", "", ""
	second.Time = time.Now().UTC()
	if err := s.Record(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := s.Lookup(ctx, first.MAC)
	if err != nil {
		t.Fatal(err)
	}
	if got.Outcome != trace.OutcomeFoundInARP || got.Port != "" || len(got.Path) != 0 {
		t.Errorf("Lookup() = %+v, want the second entry only", got)
	}
}

func TestLookupMissingAndForget(t *testing.T) {
	s := newStore(t, time.Hour)
	ctx := testutil.Context(t)

	got, err := s.Lookup(ctx, "aaaa.bbbb.cccc")
	if err != nil || got != nil {
		t.Fatalf("Lookup(missing) = %+v, %v", got, err)
	}
	if _, err := s.Lookup(ctx, "not-a-mac"); err == nil {
		t.Error("Lookup(not-a-mac) succeeded")
	}

	e := NewEntry(sampleResult(), "core-1", time.Now())
	if err := s.Record(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := s.Forget(ctx, e.MAC); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.Lookup(ctx, e.MAC); got != nil {
		t.Errorf("entry still present after Forget: %+v", got)
	}
}

func TestList(t *testing.T) {
	s := newStore(t, time.Hour)
	ctx := context.Background()

	older := NewEntry(sampleResult(), "core-1", time.Now().Add(-time.Hour))
	newer := older
	newer.MAC = "0011.2233.4466"
	newer.Time = time.Now().UTC()
	for _, e := range []Entry{older, newer} {
		if err := s.Record(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 || entries[0].MAC != newer.MAC {
		t.Errorf("List() = %+v, want newest first", entries)
	}
}
