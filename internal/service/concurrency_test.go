package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Shivanand-hulikatti/event-escrow/internal/model"
)

func lateBuyer(i int) string { return fmt.Sprintf("late-%02d", i) }

func TestConcurrentOperations(t *testing.T) {
	const lateBuyers = 10

	tests := []struct {
		name    string
		setup   func(t *testing.T, f *fixture)
		workers int
		op      func(f *fixture, i int) error
		check   func(t *testing.T, f *fixture, errs []error)
	}{
		{
			name: "one claimant withdraws concurrently",
			setup: func(t *testing.T, f *fixture) {
				seedAccounting(t, f)
				f.afterEnd()
				if _, err := f.svc.FinalizeEvent(context.Background(), "e1", "org"); err != nil {
					t.Fatalf("finalize: %v", err)
				}
			},
			workers: 20,
			op: func(f *fixture, _ int) error {
				_, err := f.svc.WithdrawRedistribution(context.Background(), "e1", "alice")
				return err
			},
			check: func(t *testing.T, f *fixture, errs []error) {
				ok := 0
				for _, err := range errs {
					switch {
					case err == nil:
						ok++
					case !errors.Is(err, model.ErrAlreadyWithdrawn):
						t.Errorf("unexpected error: %v", err)
					}
				}
				if ok != 1 {
					t.Errorf("successful withdrawals = %d, want 1", ok)
				}
				if got := f.balance(t, "alice"); got != 125 {
					t.Errorf("alice balance = %d, want 125", got)
				}
				if got := f.balance(t, "escrow:e1"); got != 125 {
					t.Errorf("escrow balance = %d, want 125", got)
				}
			},
		},
		{
			name: "each buyer purchases from several goroutines",
			setup: func(t *testing.T, f *fixture) {
				f.createEvent(t, "e1", 100, 50)
				for i := 0; i < 4; i++ {
					f.fund(t, fmt.Sprintf("b%d", i), 1000)
				}
			},
			workers: 20,
			op: func(f *fixture, i int) error {
				_, err := f.svc.PurchaseTicket(context.Background(), "e1", fmt.Sprintf("b%d", i%4))
				return err
			},
			check: func(t *testing.T, f *fixture, errs []error) {
				ok := 0
				for _, err := range errs {
					switch {
					case err == nil:
						ok++
					case !errors.Is(err, model.ErrAlreadyPaid):
						t.Errorf("unexpected error: %v", err)
					}
				}
				if ok != 4 {
					t.Errorf("successful purchases = %d, want 4", ok)
				}
				for i := 0; i < 4; i++ {
					if got := f.balance(t, fmt.Sprintf("b%d", i)); got != 900 {
						t.Errorf("b%d balance = %d, want 900", i, got)
					}
				}
				ev, _ := f.svc.GetEventInfo(context.Background(), "e1")
				if ev.TotalFunds != 400 || ev.ParticipantCount != 4 {
					t.Errorf("total=%d count=%d, want 400/4", ev.TotalFunds, ev.ParticipantCount)
				}
				if got := f.balance(t, "escrow:e1"); got != 400 {
					t.Errorf("escrow balance = %d, want 400", got)
				}
			},
		},
		{
			name: "purchases race finalize",
			setup: func(t *testing.T, f *fixture) {
				seedAccounting(t, f)
				for i := 0; i < lateBuyers; i++ {
					f.fund(t, lateBuyer(i), 100)
				}
				f.afterEnd()
			},
			workers: lateBuyers + 1,
			op: func(f *fixture, i int) error {
				if i == lateBuyers {
					_, err := f.svc.FinalizeEvent(context.Background(), "e1", "org")
					return err
				}
				_, err := f.svc.PurchaseTicket(context.Background(), "e1", lateBuyer(i))
				return err
			},
			check: func(t *testing.T, f *fixture, errs []error) {
				ctx := context.Background()
				if errs[lateBuyers] != nil {
					t.Fatalf("finalize: %v", errs[lateBuyers])
				}
				ev, _ := f.svc.GetEventInfo(ctx, "e1")
				s, err := f.svc.PreviewSettlement(ctx, "e1")
				if err != nil {
					t.Fatal(err)
				}
				if s.TotalFunds != ev.TotalFunds {
					t.Errorf("settlement total %d, ledger total %d", s.TotalFunds, ev.TotalFunds)
				}
				for i := 0; i < lateBuyers; i++ {
					want := 100
					if errs[i] == nil {
						want = 0
					} else if !errors.Is(errs[i], model.ErrEventClosed) {
						t.Errorf("%s: unexpected error %v", lateBuyer(i), errs[i])
					}
					if got := f.balance(t, lateBuyer(i)); got.Int64() != int64(want) {
						t.Errorf("%s balance = %d, want %d", lateBuyer(i), got, want)
					}
				}
				if got := f.balance(t, "org"); got != s.OrganizerShare {
					t.Errorf("organizer balance = %d, want %d", got, s.OrganizerShare)
				}
				want, _ := ev.TotalFunds.Sub(s.OrganizerShare)
				if got := f.balance(t, "escrow:e1"); got != want {
					t.Errorf("escrow balance = %d, want %d", got, want)
				}
			},
		},
		{
			name: "purchases race cancel",
			setup: func(t *testing.T, f *fixture) {
				seedAccounting(t, f)
				for i := 0; i < lateBuyers; i++ {
					f.fund(t, lateBuyer(i), 100)
				}
			},
			workers: lateBuyers + 1,
			op: func(f *fixture, i int) error {
				if i == lateBuyers {
					_, err := f.svc.CancelEvent(context.Background(), "e1", "org")
					return err
				}
				_, err := f.svc.PurchaseTicket(context.Background(), "e1", lateBuyer(i))
				return err
			},
			check: func(t *testing.T, f *fixture, errs []error) {
				if errs[lateBuyers] != nil {
					t.Fatalf("cancel: %v", errs[lateBuyers])
				}
				accounts := []string{"alice", "bob", "carol"}
				for i := 0; i < lateBuyers; i++ {
					if errs[i] != nil && !errors.Is(errs[i], model.ErrEventClosed) {
						t.Errorf("%s: unexpected error %v", lateBuyer(i), errs[i])
					}
					accounts = append(accounts, lateBuyer(i))
				}
				for _, a := range accounts {
					if got := f.balance(t, a); got != 100 {
						t.Errorf("%s balance = %d, want 100", a, got)
					}
				}
				if got := f.balance(t, "escrow:e1"); got != 0 {
					t.Errorf("escrow balance = %d, want 0", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(t, f)

			errs := make([]error, tt.workers)
			start := make(chan struct{})
			var wg sync.WaitGroup
			for i := 0; i < tt.workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					errs[i] = tt.op(f, i)
				}(i)
			}
			close(start)
			wg.Wait()

			tt.check(t, f, errs)
		})
	}
}
