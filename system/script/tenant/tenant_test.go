package tenant

import (
	"errors"
	"testing"

	"github.com/zigllms/scriptcore/system/script/scripterr"
)

func TestCheckModuleAccessDefaultDeny(t *testing.T) {
	tn := New("t1", Limits{AllowedModules: []string{"zigllms.math"}}, nil)
	if err := tn.CheckModuleAccess("zigllms.math"); err != nil {
		t.Fatalf("expected allowed module to pass: %v", err)
	}
	err := tn.CheckModuleAccess("zigllms.fs")
	if err == nil {
		t.Fatal("expected denied module to error")
	}
	if scripterr.CodeOf(err) != scripterr.Permission {
		t.Fatalf("expected Permission code, got %v", scripterr.CodeOf(err))
	}
}

func TestCheckModuleAccessEmptyAllowListMeansAll(t *testing.T) {
	tn := New("t1", Limits{}, nil)
	if err := tn.CheckModuleAccess("anything"); err != nil {
		t.Fatalf("expected no allow-list to permit all modules: %v", err)
	}
}

func TestCheckMemoryBreachTerminates(t *testing.T) {
	tn := New("t1", Limits{MemoryBytes: 1024}, nil)
	err := tn.CheckMemory(2048)
	if err == nil {
		t.Fatal("expected memory breach to error")
	}
	if scripterr.CodeOf(err) != scripterr.Memory {
		t.Fatalf("expected Memory code, got %v", scripterr.CodeOf(err))
	}
	if tn.Status != StatusTerminated {
		t.Fatal("expected tenant to be terminated after a memory breach")
	}
}

func TestManagerRegisterDuplicate(t *testing.T) {
	m := NewManager(8)
	tn := New("t1", Limits{}, nil)
	if err := m.Register(tn); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(tn); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if _, ok := m.Get("t1"); !ok {
		t.Fatal("expected tenant to be retrievable")
	}
}

func TestManagerAuditRingBufferBounded(t *testing.T) {
	m := NewManager(2)
	m.auditBreach("t1", "memory_cap", "x")
	m.auditBreach("t1", "memory_cap", "y")
	m.auditBreach("t1", "memory_cap", "z")
	events := m.AuditEvents(0)
	if len(events) != 2 {
		t.Fatalf("expected ring buffer capped at 2, got %d", len(events))
	}
	if events[len(events)-1].Detail != "z" {
		t.Fatalf("expected most recent event retained, got %+v", events)
	}
}

func TestCheckGlobalAccessDenied(t *testing.T) {
	tn := New("t1", Limits{DeniedGlobals: []string{"os"}}, nil)
	err := tn.CheckGlobalAccess("os")
	if !errors.Is(err, scripterr.ErrPermission) {
		t.Fatalf("expected ErrPermission, got %v", err)
	}
}
