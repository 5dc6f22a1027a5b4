package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/Shivanand-hulikatti/event-escrow/internal/model"
	"github.com/Shivanand-hulikatti/event-escrow/internal/service"
	"github.com/Shivanand-hulikatti/event-escrow/internal/testutil"
)

func integrationRequested() bool {
	return os.Getenv("INTEGRATION_TEST") != ""
}

type registrarFixture struct {
	reg    service.Registrar
	ledger service.Ledger
}

func registrars(t *testing.T) map[string]registrarFixture {
	ledger := NewMemoryLedger()
	out := map[string]registrarFixture{
		"memory": {reg: NewMemoryRegistrar(ledger), ledger: ledger},
	}
	if integrationRequested() {
		pool := testutil.SetupTestPool(t)
		out["postgres"] = registrarFixture{reg: NewRegistrationRepository(pool), ledger: NewPostgresLedger(pool)}
	}
	return out
}

func TestRegistrar_RegisterAndCheckIn(t *testing.T) {
	for name, fx := range registrars(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ev := newEvent("free", 0, 0)
			if err := fx.ledger.CreateEvent(ctx, ev); err != nil {
				t.Fatal(err)
			}

			reg, err := fx.reg.Register(ctx, ev, "alice", t0)
			if err != nil || reg.ID == "" || reg.CheckedIn {
				t.Fatalf("register = %+v, %v", reg, err)
			}
			if _, err := fx.reg.Register(ctx, ev, "alice", t0); !errors.Is(err, model.ErrAlreadyRegistered) {
				t.Errorf("duplicate: %v", err)
			}
			if _, err := fx.reg.CheckIn(ctx, "free", "bob", t0); !errors.Is(err, model.ErrNotRegistered) {
				t.Errorf("unknown check-in: %v", err)
			}
			in, err := fx.reg.CheckIn(ctx, "free", "alice", t0)
			if err != nil || !in.CheckedIn || in.CheckedInAt == nil {
				t.Fatalf("check-in = %+v, %v", in, err)
			}
			regs, _ := fx.reg.ListRegistrations(ctx, "free")
			if len(regs) != 1 || !regs[0].CheckedIn {
				t.Errorf("list = %+v", regs)
			}
		})
	}
}

func TestRegistrar_NoOverbooking(t *testing.T) {
	for name, fx := range registrars(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ev := newEvent("free", 0, 10)
			if err := fx.ledger.CreateEvent(ctx, ev); err != nil {
				t.Fatal(err)
			}

			var wg sync.WaitGroup
			var mu sync.Mutex
			booked := 0
			for i := 0; i < 30; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := fx.reg.Register(ctx, ev, fmt.Sprintf("user-%02d", i), t0)
					switch {
					case err == nil:
						mu.Lock()
						booked++
						mu.Unlock()
					case !errors.Is(err, model.ErrEventFull):
						t.Errorf("register: %v", err)
					}
				}(i)
			}
			wg.Wait()

			if booked != 10 {
				t.Errorf("booked %d seats, want 10", booked)
			}
		})
	}
}

func TestRegistrar_RejectsClosedEvent(t *testing.T) {
	for name, fx := range registrars(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ev := newEvent("free", 0, 0)
			if err := fx.ledger.CreateEvent(ctx, ev); err != nil {
				t.Fatal(err)
			}
			if _, err := fx.ledger.BeginCancellation(ctx, ev.ID); err != nil {
				t.Fatalf("begin cancellation: %v", err)
			}

			// ev still reads as open; the registrar must not trust it.
			_, err := fx.reg.Register(ctx, ev, "alice", t0)
			if !errors.Is(err, model.ErrEventClosed) || !errors.Is(err, model.ErrCancellationPending) {
				t.Fatalf("got %v, want ErrEventClosed", err)
			}
			regs, _ := fx.reg.ListRegistrations(ctx, ev.ID)
			if len(regs) != 0 {
				t.Errorf("registrations = %+v", regs)
			}
		})
	}
}
