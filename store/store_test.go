package store

import (
	"testing"
	"time"
)

func TestSetGetRoundTrip(t *testing.T) {
	s := New()
	s.ApplySet("k", []byte("v"), time.Time{})

	got, ok, err := s.Get("k")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !ok || string(got) != "v" {
		t.Fatalf("Get(k) = (%q, %v), want (v, true)", got, ok)
	}
}

func TestGetAbsent(t *testing.T) {
	s := New()
	_, ok, err := s.Get("missing")
	if err != nil || ok {
		t.Fatalf("Get(missing) = (ok=%v, err=%v), want (false, nil)", ok, err)
	}
}

func TestGetWrongType(t *testing.T) {
	s := New()
	s.ApplyHSet("h", "f", []byte("v"))
	_, _, err := s.Get("h")
	if err != ErrWrongType {
		t.Fatalf("Get on hash = %v, want ErrWrongType", err)
	}
}

func TestHSetCreatedVsUpdated(t *testing.T) {
	s := New()
	created, wrongType := s.ApplyHSet("u:1", "name", []byte("Bob"))
	if !created || wrongType {
		t.Fatalf("first HSET created=%v wrongType=%v, want true false", created, wrongType)
	}
	created, wrongType = s.ApplyHSet("u:1", "name", []byte("Bob"))
	if created || wrongType {
		t.Fatalf("second HSET created=%v wrongType=%v, want false false", created, wrongType)
	}

	val, ok, err := s.HGet("u:1", "name")
	if err != nil || !ok || string(val) != "Bob" {
		t.Fatalf("HGet = (%q, %v, %v), want (Bob, true, nil)", val, ok, err)
	}
}

func TestHDelEmptiesHash(t *testing.T) {
	s := New()
	s.ApplyHSet("h", "only", []byte("v"))
	removed, wrongType := s.ApplyHDel("h", "only")
	if !removed || wrongType {
		t.Fatalf("ApplyHDel = (%v, %v), want (true, false)", removed, wrongType)
	}
	if typ := s.Type("h"); typ != "none" {
		t.Fatalf("Type(h) after emptying = %q, want none", typ)
	}
}

func TestDelCount(t *testing.T) {
	s := New()
	s.ApplySet("a", []byte("1"), time.Time{})
	s.ApplySet("b", []byte("2"), time.Time{})

	n := s.ApplyDel("a", "b", "c")
	if n != 2 {
		t.Fatalf("ApplyDel = %d, want 2", n)
	}
}

func TestExpiry(t *testing.T) {
	base := time.Unix(0, 0)
	clock := base
	s := New()
	s.SetClock(func() time.Time { return clock })

	s.ApplySet("k", []byte("v"), base.Add(50*time.Millisecond))

	clock = base.Add(10 * time.Millisecond)
	if _, ok, _ := s.Get("k"); !ok {
		t.Fatal("key should still be live before its deadline")
	}

	clock = base.Add(100 * time.Millisecond)
	if _, ok, _ := s.Get("k"); ok {
		t.Fatal("key should be absent strictly after its deadline")
	}
}

func TestLazyExpireHookFires(t *testing.T) {
	base := time.Unix(0, 0)
	clock := base
	s := New()
	s.SetClock(func() time.Time { return clock })
	s.ApplySet("k", []byte("v"), base.Add(time.Millisecond))

	var notified string
	s.SetLazyExpireHook(func(key string) { notified = key })

	clock = base.Add(time.Second)
	s.Get("k")
	if notified != "k" {
		t.Fatalf("lazy expire hook fired with %q, want k", notified)
	}
}

func TestKeysGlob(t *testing.T) {
	s := New()
	s.ApplySet("user:1", []byte("a"), time.Time{})
	s.ApplySet("user:2", []byte("b"), time.Time{})
	s.ApplySet("other", []byte("c"), time.Time{})

	matches := s.Keys("user:*")
	if len(matches) != 2 {
		t.Fatalf("Keys(user:*) returned %d keys, want 2", len(matches))
	}
}

func TestGlobMetacharacters(t *testing.T) {
	cases := []struct {
		pattern, name string
		want          bool
	}{
		{"*", "anything", true},
		{"h?llo", "hello", true},
		{"h?llo", "hllo", false},
		{"h[ae]llo", "hello", true},
		{"h[ae]llo", "hillo", false},
		{"h[^e]llo", "hello", false},
		{"h[^e]llo", "hallo", true},
		{"a[a-c]c", "abc", true},
		{"a[a-c]c", "adc", false},
	}
	for _, c := range cases {
		if got := matchGlob(c.pattern, c.name); got != c.want {
			t.Errorf("matchGlob(%q, %q) = %v, want %v", c.pattern, c.name, got, c.want)
		}
	}
}

func TestApplyExpire(t *testing.T) {
	s := New()
	if s.ApplyExpire("missing", time.Now().Add(time.Second)) {
		t.Fatal("ApplyExpire on missing key should return false")
	}
	s.ApplySet("k", []byte("v"), time.Time{})
	if !s.ApplyExpire("k", time.Now().Add(time.Hour)) {
		t.Fatal("ApplyExpire on existing key should return true")
	}
	if ttl, hasExpiry, ok := s.TTL("k"); !ok || !hasExpiry || ttl <= 0 {
		t.Fatalf("TTL = (%v, %v, %v), want positive duration", ttl, hasExpiry, ok)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := New()
	s.ApplySet("k", []byte("v"), time.Time{})
	s.ApplyHSet("h", "f", []byte("g"))

	records := s.Snapshot()
	s2 := New()
	s2.LoadSnapshot(records)

	got, ok, _ := s2.Get("k")
	if !ok || string(got) != "v" {
		t.Fatalf("Get(k) after LoadSnapshot = (%q, %v)", got, ok)
	}
	hv, ok, _ := s2.HGet("h", "f")
	if !ok || string(hv) != "g" {
		t.Fatalf("HGet(h,f) after LoadSnapshot = (%q, %v)", hv, ok)
	}
}
