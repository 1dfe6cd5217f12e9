package serialmux

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDisabledSerialMux_UnsubscribeClosesChannel(t *testing.T) {
	d := NewDisabledSerialMux()
	id, ch := d.Subscribe()

	done := make(chan struct{})
	go func() {
		_, ok := <-ch
		if ok {
			t.Errorf("expected channel to be closed on unsubscribe")
		}
		close(done)
	}()

	// Give goroutine a moment to start and block on read
	time.Sleep(10 * time.Millisecond)

	d.Unsubscribe(id)

	select {
	case <-done:
		// success
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for subscriber to be unblocked after Unsubscribe")
	}
}

func TestDisabledSerialMux_CloseClosesAllChannels(t *testing.T) {
	d := NewDisabledSerialMux()
	id1, ch1 := d.Subscribe()
	_, ch2 := d.Subscribe()

	done1 := make(chan struct{})
	done2 := make(chan struct{})

	go func() {
		_, ok := <-ch1
		if ok {
			t.Errorf("expected ch1 to be closed on Close")
		}
		close(done1)
	}()

	go func() {
		_, ok := <-ch2
		if ok {
			t.Errorf("expected ch2 to be closed on Close")
		}
		close(done2)
	}()

	// Give goroutines a moment to start and block on read
	time.Sleep(10 * time.Millisecond)

	if err := d.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	select {
	case <-done1:
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for ch1 to be closed after Close")
	}

	select {
	case <-done2:
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for ch2 to be closed after Close")
	}

	// Ensure unsubscribing a non-existent id is a no-op (should not panic)
	d.Unsubscribe(id1)
}

func TestDisabledSerialMux_Operations(t *testing.T) {
	d := NewDisabledSerialMux()
	if err := d.SendCommand("get gain"); err != nil {
		t.Errorf("SendCommand returned %v", err)
	}
	if err := d.Initialize([]string{"set gain 1"}); err != nil {
		t.Errorf("Initialize returned %v", err)
	}
	if _, err := d.Query(context.Background(), "get gain"); !errors.Is(err, ErrDisabled) {
		t.Errorf("Query error = %v, want ErrDisabled", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Monitor(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Monitor error = %v", err)
	}

	httpMux := http.NewServeMux()
	d.AttachAdminRoutes(httpMux)
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/serial-disabled", nil))
	if d.Dropped() != 2 {
		t.Errorf("Dropped = %d, want 2", d.Dropped())
	}
	if w.Code != http.StatusOK || w.Body.String() != "serial disabled, 2 commands dropped" {
		t.Errorf("serial-disabled = %d %q", w.Code, w.Body.String())
	}

	d.Close()
	_, ch := d.Subscribe()
	if _, ok := <-ch; ok {
		t.Error("Subscribe after Close should return a closed channel")
	}
}
