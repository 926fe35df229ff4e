package ptyagent

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestStartUnknownCommandIsNotFound(t *testing.T) {
	a := New(Descriptor{Name: "ghost", Command: "duet-no-such-binary-xyz"}, nil)
	err := a.Start()
	if !errors.Is(err, ErrStartupNotFound) {
		t.Fatalf("Start() error = %v, want ErrStartupNotFound", err)
	}
}

func TestSendBeforeStartIsSendFailure(t *testing.T) {
	a := New(Descriptor{Name: "cat", Command: "cat"}, nil)
	err := a.Send("hello")
	if !errors.Is(err, ErrSendFailure) {
		t.Fatalf("Send() error = %v, want ErrSendFailure", err)
	}
}

func TestStartSendReadTerminateRoundTrip(t *testing.T) {
	a := New(Descriptor{
		Name:    "cat",
		Command: "cat",
		Startup: StartupConfig{WaitAfterStart: 50 * time.Millisecond, InitialReadAttempts: 2},
	}, nil)

	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer a.Terminate()

	if !a.IsRunning() {
		t.Fatal("IsRunning() = false right after Start")
	}

	if err := a.Send("echo-me"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	got := a.Read(2 * time.Second)
	if !strings.Contains(got, "echo-me") {
		t.Fatalf("Read() = %q, want it to contain %q", got, "echo-me")
	}

	if err := a.Terminate(); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if a.IsRunning() {
		t.Fatal("IsRunning() = true after Terminate")
	}
	if !a.PTYClosed() {
		t.Fatal("PTYClosed() = false after Terminate")
	}
}

func TestPTYClosedImpliesNotRunning(t *testing.T) {
	a := New(Descriptor{Name: "cat", Command: "cat"}, nil)
	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	a.Terminate()

	if a.PTYClosed() && a.IsRunning() {
		t.Fatal("invariant violated: pty_closed true but process_running true")
	}
}
