package ptt

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestReconnector_Connect(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		conn := newFakeConn()
		d := &fakeDialer{results: []dialResult{{conn: conn}}}
		r := NewReconnector(ReconnectorConfig{Dialer: d, Logger: quietLogger()})

		got, err := r.Connect(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != conn || r.Connection() != conn {
			t.Error("connection not stored")
		}
	})

	t.Run("failure", func(t *testing.T) {
		d := &fakeDialer{results: []dialResult{{err: errors.New("refused")}}}
		r := NewReconnector(ReconnectorConfig{Dialer: d, Logger: quietLogger()})

		if _, err := r.Connect(context.Background()); err == nil {
			t.Fatal("expected error, got nil")
		}
		if r.Connection() != nil {
			t.Error("expected nil connection after failure")
		}
	})
}

func TestReconnector_Defaults(t *testing.T) {
	r := NewReconnector(ReconnectorConfig{Dialer: &fakeDialer{}})
	if r.maxRetries != 10 || r.backoff != time.Second || r.maxBackoff != 30*time.Second {
		t.Errorf("defaults: retries=%d backoff=%v max=%v", r.maxRetries, r.backoff, r.maxBackoff)
	}
}

func TestReconnector_RedialsAfterFailures(t *testing.T) {
	old, fresh := newFakeConn(), newFakeConn()
	d := &fakeDialer{results: []dialResult{
		{conn: old},
		{err: errors.New("down")},
		{err: errors.New("down")},
		{conn: fresh},
	}}
	got := make(chan Conn, 1)
	r := NewReconnector(ReconnectorConfig{
		Dialer:      d,
		MaxRetries:  5,
		Backoff:     time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
		OnReconnect: func(c Conn) { got <- c },
		Logger:      quietLogger(),
	})
	if _, err := r.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	r.Monitor(t.Context())
	r.NotifyDisconnect()

	select {
	case c := <-got:
		if c != fresh {
			t.Error("OnReconnect got the wrong connection")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnection")
	}
	if n := d.callCount(); n != 4 {
		t.Errorf("dial calls = %d, want 4", n)
	}
	if old.closeCount() != 1 {
		t.Errorf("old connection closed %d times, want 1", old.closeCount())
	}
	if r.Connection() != fresh {
		t.Error("Connection() is not the new connection")
	}
	_ = r.Stop()
}

func TestReconnector_GivesUp(t *testing.T) {
	d := &fakeDialer{results: []dialResult{{err: errors.New("permanently down")}}}
	gaveUp := make(chan struct{})
	r := NewReconnector(ReconnectorConfig{
		Dialer:      d,
		MaxRetries:  2,
		Backoff:     time.Millisecond,
		MaxBackoff:  time.Millisecond,
		OnReconnect: func(Conn) { t.Error("OnReconnect called") },
		OnGiveUp:    func() { close(gaveUp) },
		Logger:      quietLogger(),
	})
	r.Monitor(t.Context())
	r.NotifyDisconnect()

	select {
	case <-gaveUp:
	case <-time.After(2 * time.Second):
		t.Fatal("OnGiveUp not called")
	}
	if n := d.callCount(); n != 2 {
		t.Errorf("dial calls = %d, want 2", n)
	}
	_ = r.Stop()
}

func TestReconnector_Stop(t *testing.T) {
	conn := newFakeConn()
	r := NewReconnector(ReconnectorConfig{Dialer: &fakeDialer{results: []dialResult{{conn: conn}}}})
	if _, err := r.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := r.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Connection() != nil {
		t.Error("expected nil connection after Stop")
	}
	if conn.closeCount() != 1 {
		t.Errorf("Close calls = %d, want 1", conn.closeCount())
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("unexpected error on double Stop: %v", err)
	}
}

func TestReconnector_NotifyDisconnectNonBlocking(t *testing.T) {
	r := NewReconnector(ReconnectorConfig{Dialer: &fakeDialer{}})
	r.NotifyDisconnect()
	r.NotifyDisconnect()
	r.NotifyDisconnect()
}
