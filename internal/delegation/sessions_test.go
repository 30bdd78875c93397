package delegation

import (
	"sync"
	"testing"
	"time"

	"github.com/nuvin-ai/nuvin/pkg/models"
)

func newTestRegistry(t *testing.T, config RegistryConfig) *SessionRegistry {
	t.Helper()
	registry := NewSessionRegistry(config)
	t.Cleanup(registry.Close)
	return registry
}

func TestRegistryLifecycle(t *testing.T) {
	registry := newTestRegistry(t, RegistryConfig{})

	session := registry.Create("researcher")
	if session.ID == "" {
		t.Fatal("Create returned a session without an id")
	}
	if session.State() != SessionRunning {
		t.Errorf("State = %q, want running", session.State())
	}

	select {
	case <-session.Done():
		t.Fatal("Done closed before completion")
	default:
	}

	result := &models.DelegationResult{Kind: models.DelegationOK, Success: true, Summary: "done"}
	registry.Complete(session.ID, result, []*models.Message{{Content: "transcript"}})

	select {
	case <-session.Done():
	default:
		t.Fatal("Done not closed after Complete")
	}
	if session.State() != SessionCompleted {
		t.Errorf("State = %q, want completed", session.State())
	}
	if got := session.Result(); got == nil || got.Summary != "done" {
		t.Errorf("Result = %+v", got)
	}
	if msgs := session.Messages(); len(msgs) != 1 {
		t.Errorf("Messages = %v", msgs)
	}

	// A second terminal transition is ignored.
	registry.Fail(session.ID, &models.DelegationResult{Kind: models.DelegationExecutionError}, nil)
	if session.State() != SessionCompleted {
		t.Errorf("State = %q after double finish, want completed kept", session.State())
	}
}

func TestRegistryCapacityEvictsCompletedFirst(t *testing.T) {
	registry := newTestRegistry(t, RegistryConfig{Capacity: 2})

	oldest := registry.Create("a")
	registry.Complete(oldest.ID, &models.DelegationResult{Kind: models.DelegationOK}, nil)
	running := registry.Create("b")

	// Adding a third session over capacity 2 evicts the completed one,
	// never the running one.
	registry.Create("c")

	if _, ok := registry.Get(oldest.ID); ok {
		t.Error("oldest completed session survived capacity eviction")
	}
	if _, ok := registry.Get(running.ID); !ok {
		t.Error("running session was evicted")
	}
}

func TestRegistryEvictExpired(t *testing.T) {
	registry := newTestRegistry(t, RegistryConfig{TTL: time.Millisecond})

	expired := registry.Create("a")
	registry.Complete(expired.ID, &models.DelegationResult{Kind: models.DelegationOK}, nil)
	running := registry.Create("b")

	time.Sleep(5 * time.Millisecond)
	registry.evictExpired()

	if _, ok := registry.Get(expired.ID); ok {
		t.Error("expired completed session not evicted")
	}
	if _, ok := registry.Get(running.ID); !ok {
		t.Error("running session evicted by TTL janitor")
	}
}

func TestRegistryReopen(t *testing.T) {
	registry := newTestRegistry(t, RegistryConfig{})

	session := registry.Create("a")
	if _, ok := registry.Reopen(session.ID); ok {
		t.Error("Reopen succeeded on a running session")
	}

	registry.Complete(session.ID, &models.DelegationResult{Kind: models.DelegationOK}, []*models.Message{{Content: "old"}})
	reopened, ok := registry.Reopen(session.ID)
	if !ok {
		t.Fatal("Reopen failed on a completed session")
	}
	if reopened.ID != session.ID {
		t.Errorf("reopened id = %q, want the original %q kept", reopened.ID, session.ID)
	}
	if reopened.State() != SessionRunning {
		t.Errorf("State = %q, want running", reopened.State())
	}
	if reopened.Result() != nil {
		t.Error("reopened session kept its old result")
	}
	if len(reopened.Messages()) != 1 {
		t.Error("reopened session lost its transcript")
	}

	select {
	case <-reopened.Done():
		t.Fatal("Done closed immediately after Reopen")
	default:
	}

	if _, ok := registry.Reopen("unknown"); ok {
		t.Error("Reopen succeeded for an unknown session")
	}
}

func TestRegistryReopenConcurrentWithDone(t *testing.T) {
	registry := newTestRegistry(t, RegistryConfig{})
	session := registry.Create("researcher")
	registry.Complete(session.ID, &models.DelegationResult{Kind: models.DelegationOK, Summary: "first"}, nil)

	// A waiter fetching Done while another caller cycles Reopen/Complete
	// must never observe a torn channel read.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				session.Done()
				session.State()
			}
		}
	}()

	for i := 0; i < 200; i++ {
		if _, ok := registry.Reopen(session.ID); !ok {
			t.Fatalf("Reopen %d failed", i)
		}
		registry.Complete(session.ID, &models.DelegationResult{Kind: models.DelegationOK, Summary: "again"}, nil)
	}
	close(stop)
	wg.Wait()

	select {
	case <-session.Done():
	default:
		t.Error("Done not closed after the final completion")
	}
	if session.State() != SessionCompleted {
		t.Errorf("State = %q, want completed", session.State())
	}
}

func TestRegistryListNewestFirst(t *testing.T) {
	registry := newTestRegistry(t, RegistryConfig{})

	first := registry.Create("a")
	time.Sleep(2 * time.Millisecond)
	second := registry.Create("b")

	infos := registry.List()
	if len(infos) != 2 {
		t.Fatalf("len(List) = %d, want 2", len(infos))
	}
	if infos[0].ID != second.ID || infos[1].ID != first.ID {
		t.Errorf("List order = [%s %s], want newest first", infos[0].ID, infos[1].ID)
	}
}
