package knownsource

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/linnemanlabs/go-core/log"
)

// mockStore implements Store for testing. Add is atomic like the real stores.
type mockStore struct {
	mu      sync.Mutex
	saved   Set
	saves   int
	loadErr error
	saveErr error
}

func (m *mockStore) Load(_ context.Context) (Set, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.saved == nil {
		return NewSet(), nil
	}
	return m.saved.Clone(), nil
}

func (m *mockStore) Add(_ context.Context, ip string) (Set, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return nil, false, m.saveErr
	}
	if m.saved == nil {
		m.saved = NewSet()
	}
	if !m.saved.Add(ip) {
		return m.saved.Clone(), false, nil
	}
	m.saves++
	return m.saved.Clone(), true, nil
}

func TestOpen_LoadErrorStartsEmpty(t *testing.T) {
	t.Parallel()

	r := Open(context.Background(), &mockStore{loadErr: ErrCorrupt}, log.Nop())
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestOpen_LoadsPersisted(t *testing.T) {
	t.Parallel()

	r := Open(context.Background(), &mockStore{saved: NewSet("1.1.1.1")}, log.Nop())
	if !r.Contains("1.1.1.1") {
		t.Error("expected persisted IP to be trusted")
	}
}

func TestAdd_PersistsBeforeVisible(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	r := Open(context.Background(), store, log.Nop())

	changed, err := r.Add(context.Background(), "9.9.9.9")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !changed {
		t.Error("expected changed=true for new IP")
	}
	if !r.Contains("9.9.9.9") {
		t.Error("expected IP to be trusted")
	}
	if !store.saved.Contains("9.9.9.9") {
		t.Error("expected IP to be persisted")
	}

	// a fresh registry over the same store sees it
	fresh := Open(context.Background(), store, log.Nop())
	if !fresh.Contains("9.9.9.9") {
		t.Error("expected reloaded registry to contain IP")
	}
}

func TestAdd_Idempotent(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	r := Open(context.Background(), store, log.Nop())
	ctx := context.Background()

	_, _ = r.Add(ctx, "9.9.9.9")
	changed, err := r.Add(ctx, "9.9.9.9")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if changed {
		t.Error("expected changed=false for duplicate add")
	}
	if store.saves != 1 {
		t.Errorf("saves = %d, want 1", store.saves)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestAdd_SaveFailureLeavesSetUnchanged(t *testing.T) {
	t.Parallel()

	store := &mockStore{saveErr: errors.New("disk full")}
	r := Open(context.Background(), store, log.Nop())

	changed, err := r.Add(context.Background(), "9.9.9.9")
	if err == nil {
		t.Fatal("expected save error")
	}
	if changed {
		t.Error("expected changed=false on failure")
	}
	if r.Contains("9.9.9.9") {
		t.Error("IP must not be trusted when persistence failed")
	}
}

func TestSnapshot_IsCopy(t *testing.T) {
	t.Parallel()

	r := Open(context.Background(), &mockStore{saved: NewSet("1.1.1.1")}, log.Nop())
	snap := r.Snapshot()
	snap.Add("2.2.2.2")
	if r.Contains("2.2.2.2") {
		t.Error("mutating a snapshot must not affect the registry")
	}
}

func TestSet_Basics(t *testing.T) {
	t.Parallel()

	s := NewSet("b", "a")
	if !s.Add("c") {
		t.Error("Add new = false")
	}
	if s.Add("a") {
		t.Error("Add existing = true")
	}
	got := s.Sorted()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("Sorted = %v", got)
	}
	if !s.Equal(NewSet("c", "b", "a")) {
		t.Error("Equal = false for same members")
	}
	if s.Equal(NewSet("a", "b", "d")) {
		t.Error("Equal = true for different members")
	}
}

func TestAdd_Concurrent(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	r := Open(context.Background(), store, log.Nop())
	ips := []string{"1.1.1.1", "2.2.2.2", "3.3.3.3", "4.4.4.4"}

	var wg sync.WaitGroup
	for range 10 {
		for _, ip := range ips {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = r.Add(context.Background(), ip)
				_ = r.Contains(ip)
			}()
		}
	}
	wg.Wait()

	if r.Len() != len(ips) {
		t.Errorf("Len = %d, want %d", r.Len(), len(ips))
	}
	if !store.saved.Equal(NewSet(ips...)) {
		t.Errorf("persisted = %v, lost an update", store.saved.Sorted())
	}
}

func TestAdd_TwoRegistriesOneStore(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	ctx := context.Background()
	daemon := Open(ctx, store, log.Nop())
	ctl := Open(ctx, store, log.Nop())

	if _, err := ctl.Add(ctx, "9.9.9.9"); err != nil {
		t.Fatalf("ctl Add: %v", err)
	}
	if _, err := daemon.Add(ctx, "1.1.1.1"); err != nil {
		t.Fatalf("daemon Add: %v", err)
	}

	if !store.saved.Equal(NewSet("1.1.1.1", "9.9.9.9")) {
		t.Errorf("persisted = %v, want both trusts", store.saved.Sorted())
	}
	if !daemon.Contains("9.9.9.9") {
		t.Error("daemon did not adopt the persisted set")
	}
}

func TestAdd_AlreadyPersistedByOtherWriter(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	ctx := context.Background()
	daemon := Open(ctx, store, log.Nop())
	ctl := Open(ctx, store, log.Nop())

	if _, err := ctl.Add(ctx, "9.9.9.9"); err != nil {
		t.Fatalf("ctl Add: %v", err)
	}
	added, err := daemon.Add(ctx, "9.9.9.9")
	if err != nil {
		t.Fatalf("daemon Add: %v", err)
	}
	if added {
		t.Error("added = true for an IP another writer persisted")
	}
	if !daemon.Contains("9.9.9.9") {
		t.Error("daemon should trust 9.9.9.9 after Add")
	}
}
