package core

import (
	"context"
	"errors"
	"slices"
	"testing"
)

// orderModule records Start and Stop calls into a shared log.
type orderModule struct {
	id       ModuleID
	log      *[]string
	startErr error
}

func (m *orderModule) ModuleInfo() ModuleInfo {
	return ModuleInfo{ID: m.id, New: func() Module { return m }}
}

func (m *orderModule) Start() error {
	if m.startErr != nil {
		return m.startErr
	}
	*m.log = append(*m.log, "start:"+string(m.id))
	return nil
}

func (m *orderModule) Stop(_ context.Context) error {
	*m.log = append(*m.log, "stop:"+string(m.id))
	return nil
}

func TestApp_StartStopOrder(t *testing.T) {
	var calls []string
	app := NewApp(NewAppContext(nil, t.TempDir()))
	app.AppendModule("a", &orderModule{id: "a", log: &calls})
	app.AppendModule("b", &orderModule{id: "b", log: &calls})

	if err := app.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	app.Stop()

	want := []string{"start:a", "start:b", "stop:b", "stop:a"}
	if !slices.Equal(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestApp_StartFailureRollsBack(t *testing.T) {
	var calls []string
	app := NewApp(NewAppContext(nil, t.TempDir()))
	app.AppendModule("a", &orderModule{id: "a", log: &calls})
	app.AppendModule("b", &orderModule{id: "b", log: &calls, startErr: errors.New("boom")})

	if err := app.Start(); err == nil {
		t.Fatal("expected start error")
	}

	want := []string{"start:a", "stop:a"}
	if !slices.Equal(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestApp_ModuleLookup(t *testing.T) {
	var calls []string
	app := NewApp(NewAppContext(nil, t.TempDir()))
	mod := &orderModule{id: "x", log: &calls}
	app.AppendModule("x", mod)

	got, ok := app.Module("x")
	if !ok || got != mod {
		t.Fatalf("Module(x) = (%v, %v)", got, ok)
	}
	if _, ok := app.Module("y"); ok {
		t.Error("Module(y) should not be found")
	}
	if n := len(app.Modules()); n != 1 {
		t.Errorf("Modules() len = %d, want 1", n)
	}
}

func TestApp_AbortStopsUnstartedModules(t *testing.T) {
	var calls []string
	app := NewApp(NewAppContext(nil, t.TempDir()))
	app.AppendModule("a", &orderModule{id: "a", log: &calls})
	app.AppendModule("b", &orderModule{id: "b", log: &calls})

	app.Abort()

	want := []string{"stop:b", "stop:a"}
	if !slices.Equal(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
	if n := len(app.Modules()); n != 0 {
		t.Errorf("Modules() len = %d, want 0", n)
	}
}

// stopOnly has a Stop step but no Start step, like a storage module.
type stopOnly struct{ stopped *bool }

func (m *stopOnly) ModuleInfo() ModuleInfo {
	return ModuleInfo{ID: "store.test", New: func() Module { return m }}
}

func (m *stopOnly) Stop(context.Context) error {
	*m.stopped = true
	return nil
}

func TestApp_StopsModulesWithoutStart(t *testing.T) {
	stopped := false
	app := NewApp(NewAppContext(nil, t.TempDir()))
	app.AppendModule("store.test", &stopOnly{stopped: &stopped})

	if err := app.Start(); err != nil {
		t.Fatal(err)
	}
	app.Stop()
	if !stopped {
		t.Error("Stop was not called on a module without Start")
	}
}
