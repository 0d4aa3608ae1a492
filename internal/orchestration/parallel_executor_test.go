package orchestration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/VladislavFirsov/reportflow/contracts"
)

func TestWorkerPool_Execute(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		timeout time.Duration
		fn      func(ctx context.Context) error
		wantErr error
	}{
		{
			name: "success",
			fn:   func(context.Context) error { return nil },
		},
		{
			name:    "error is returned unchanged",
			fn:      func(context.Context) error { return boom },
			wantErr: boom,
		},
		{
			name:    "panic becomes thread failure",
			fn:      func(context.Context) error { panic("kaboom") },
			wantErr: contracts.ErrThreadFailed,
		},
		{
			name:    "deadline becomes timeout",
			timeout: 20 * time.Millisecond,
			fn: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
			wantErr: contracts.ErrTaskTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newWorkerPool(1, tt.timeout)
			err := p.execute(context.Background(), newFnTask("t", 1, tt.fn))
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("execute() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("execute() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestWorkerPool_FreeSlots(t *testing.T) {
	p := newWorkerPool(0, 0)
	if p.size != 1 {
		t.Fatalf("size = %d, want 1", p.size)
	}
	p.inflight = 1
	if p.free() != 0 {
		t.Fatalf("free() = %d, want 0", p.free())
	}
	p.parked.Add(1)
	if p.free() != 1 {
		t.Fatalf("free() with parked worker = %d, want 1", p.free())
	}
	if !p.allParked() {
		t.Fatal("allParked() = false, want true")
	}
}
