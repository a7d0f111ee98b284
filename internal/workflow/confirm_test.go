package workflow

import (
	"testing"
	"time"
)

func TestConfirm_ResolveYes(t *testing.T) {
	r := NewConfirmRegistry(time.Second)
	ch := r.Request("chan-1")

	if !r.Pending("chan-1") {
		t.Error("Pending = false, want true after Request")
	}
	if ok := r.Resolve("chan-1", true); !ok {
		t.Fatal("Resolve = false, want true for pending key")
	}
	select {
	case answer := <-ch:
		if !answer {
			t.Error("answer = false, want true")
		}
	case <-time.After(time.Second):
		t.Fatal("no answer delivered")
	}
	if r.Pending("chan-1") {
		t.Error("Pending = true after resolve, want false")
	}
}

func TestConfirm_ResolveNo(t *testing.T) {
	r := NewConfirmRegistry(time.Second)
	ch := r.Request("chan-1")
	r.Resolve("chan-1", false)
	if answer := <-ch; answer {
		t.Error("answer = true, want false")
	}
}

func TestConfirm_TimeoutCancels(t *testing.T) {
	r := NewConfirmRegistry(20 * time.Millisecond)
	ch := r.Request("chan-1")
	select {
	case answer := <-ch:
		if answer {
			t.Error("answer = true on timeout, want false")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}
	if r.Pending("chan-1") {
		t.Error("Pending = true after timeout, want false")
	}
}

func TestConfirm_StrayResolve(t *testing.T) {
	r := NewConfirmRegistry(time.Second)
	if ok := r.Resolve("chan-1", true); ok {
		t.Error("Resolve = true with nothing pending, want false")
	}
}

func TestConfirm_NewRequestCancelsOld(t *testing.T) {
	r := NewConfirmRegistry(time.Second)
	old := r.Request("chan-1")
	fresh := r.Request("chan-1")

	if answer := <-old; answer {
		t.Error("old request answered true, want cancelled false")
	}

	r.Resolve("chan-1", true)
	if answer := <-fresh; !answer {
		t.Error("fresh request answered false, want true")
	}
}

func TestConfirm_IndependentKeys(t *testing.T) {
	r := NewConfirmRegistry(time.Second)
	a := r.Request("chan-a")
	b := r.Request("chan-b")

	r.Resolve("chan-a", true)
	if answer := <-a; !answer {
		t.Error("chan-a answered false, want true")
	}
	if !r.Pending("chan-b") {
		t.Error("chan-b should still be pending")
	}
	r.Resolve("chan-b", false)
	if answer := <-b; answer {
		t.Error("chan-b answered true, want false")
	}
}
