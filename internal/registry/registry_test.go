package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/binderlab/binder_core/internal/descriptor"
	"github.com/binderlab/binder_core/internal/lifecycle"
	"github.com/binderlab/binder_core/internal/service"
	"github.com/binderlab/binder_core/pkg/logger"
)

type echoImpl struct{}

func (echoImpl) Invoke(_ context.Context, _ uint32, args []any) (any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	return args[0], nil
}

type echoInstance struct {
	echoImpl
	shutdowns atomic.Int32
}

func (e *echoInstance) Shutdown(_ context.Context) error {
	e.shutdowns.Add(1)
	return nil
}

func echoDescriptor() *descriptor.InterfaceDescriptor {
	return &descriptor.InterfaceDescriptor{
		Name:      "IEcho",
		Version:   1,
		Stability: descriptor.StabilityUnstable,
		Methods: []descriptor.Method{
			{Index: 1, Name: "echo", Params: []descriptor.FieldType{descriptor.String8()}, Return: descriptor.String8()},
		},
	}
}

func newTestRegistry(t *testing.T) (*Registry, *descriptor.InterfaceDescriptor) {
	t.Helper()
	table := descriptor.NewTable()
	desc := echoDescriptor()
	if err := table.RegisterInterface(desc); err != nil {
		t.Fatalf("RegisterInterface: %v", err)
	}
	return New(table, logger.NewDefault("test")), desc
}

func lazyConfig() lifecycle.Config {
	return lifecycle.Config{
		StartTimeout: 200 * time.Millisecond,
		IdleTimeout:  50 * time.Millisecond,
		StopTimeout:  200 * time.Millisecond,
	}
}

func TestAddAndGetService(t *testing.T) {
	r, desc := newTestRegistry(t)

	h, err := r.AddService("echo", echoImpl{}, desc, true)
	if err != nil {
		t.Fatalf("AddService: %v", err)
	}
	if h.Name() != "echo" {
		t.Errorf("handle name = %q, want echo", h.Name())
	}

	got, err := r.GetService(context.Background(), "echo")
	if err != nil {
		t.Fatalf("GetService: %v", err)
	}
	defer got.Release()
	if got.ID() != h.ID() {
		t.Error("GetService returned a different handle")
	}
	if got.Refs() != 1 {
		t.Errorf("refs = %d, want 1", got.Refs())
	}
}

func TestNameConflict(t *testing.T) {
	r, desc := newTestRegistry(t)

	if _, err := r.AddService("echo", echoImpl{}, desc, true); err != nil {
		t.Fatalf("AddService: %v", err)
	}
	if _, err := r.AddService("echo", echoImpl{}, desc, true); !errors.Is(err, ErrNameConflict) {
		t.Errorf("second AddService err = %v, want ErrNameConflict", err)
	}
}

func TestServiceNotFound(t *testing.T) {
	r, _ := newTestRegistry(t)

	if _, err := r.GetService(context.Background(), "ghost"); !errors.Is(err, ErrServiceNotFound) {
		t.Errorf("GetService err = %v, want ErrServiceNotFound", err)
	}
}

func TestUnknownDescriptorRejected(t *testing.T) {
	r, _ := newTestRegistry(t)

	stranger := &descriptor.InterfaceDescriptor{Name: "IStranger", Version: 1}
	if _, err := r.AddService("stranger", echoImpl{}, stranger, true); !errors.Is(err, ErrDescriptorUnknown) {
		t.Errorf("AddService err = %v, want ErrDescriptorUnknown", err)
	}
	if err := r.AddLazyService("stranger", nil, stranger, true, lazyConfig()); !errors.Is(err, ErrDescriptorUnknown) {
		t.Errorf("AddLazyService err = %v, want ErrDescriptorUnknown", err)
	}
}

func TestInvalidName(t *testing.T) {
	r, desc := newTestRegistry(t)

	for _, name := range []string{"", "has space", "tab\tname"} {
		if _, err := r.AddService(name, echoImpl{}, desc, true); err == nil {
			t.Errorf("AddService(%q) succeeded, want error", name)
		}
	}
}

func TestListServicesExportedOnly(t *testing.T) {
	r, desc := newTestRegistry(t)

	if _, err := r.AddService("public.a", echoImpl{}, desc, true); err != nil {
		t.Fatalf("AddService: %v", err)
	}
	if _, err := r.AddService("public.b", echoImpl{}, desc, true); err != nil {
		t.Fatalf("AddService: %v", err)
	}
	if _, err := r.AddService("private.c", echoImpl{}, desc, false); err != nil {
		t.Fatalf("AddService: %v", err)
	}

	names := r.ListServices()
	sort.Strings(names)
	want := []string{"public.a", "public.b"}
	if len(names) != len(want) {
		t.Fatalf("ListServices = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("ListServices = %v, want %v", names, want)
		}
	}

	// Non-exported services are still reachable by name.
	h, err := r.GetService(context.Background(), "private.c")
	if err != nil {
		t.Fatalf("GetService(private.c): %v", err)
	}
	h.Release()
}

func TestLazyGetServiceStartsInstance(t *testing.T) {
	r, desc := newTestRegistry(t)

	var starts atomic.Int32
	inst := &echoInstance{}
	factory := func(_ context.Context) (service.Instance, error) {
		starts.Add(1)
		return inst, nil
	}
	if err := r.AddLazyService("lazy.echo", factory, desc, true, lazyConfig()); err != nil {
		t.Fatalf("AddLazyService: %v", err)
	}
	if starts.Load() != 0 {
		t.Fatal("factory ran at registration time")
	}

	h, err := r.GetService(context.Background(), "lazy.echo")
	if err != nil {
		t.Fatalf("GetService: %v", err)
	}
	if starts.Load() != 1 {
		t.Errorf("starts = %d, want 1", starts.Load())
	}
	if h.Refs() != 1 {
		t.Errorf("refs = %d, want 1", h.Refs())
	}

	// Second lookup reuses the live instance.
	h2, err := r.GetService(context.Background(), "lazy.echo")
	if err != nil {
		t.Fatalf("second GetService: %v", err)
	}
	if starts.Load() != 1 {
		t.Errorf("starts = %d after second lookup, want 1", starts.Load())
	}
	h2.Release()
	h.Release()
}

func TestLazyStartTimeout(t *testing.T) {
	r, desc := newTestRegistry(t)

	factory := func(ctx context.Context) (service.Instance, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	cfg := lazyConfig()
	cfg.StartTimeout = 50 * time.Millisecond
	if err := r.AddLazyService("slow", factory, desc, true, cfg); err != nil {
		t.Fatalf("AddLazyService: %v", err)
	}

	if _, err := r.GetService(context.Background(), "slow"); !errors.Is(err, ErrStartTimeout) {
		t.Errorf("GetService err = %v, want ErrStartTimeout", err)
	}
}

func TestLazyTeardownAndRestart(t *testing.T) {
	r, desc := newTestRegistry(t)

	var starts atomic.Int32
	factory := func(_ context.Context) (service.Instance, error) {
		starts.Add(1)
		return &echoInstance{}, nil
	}
	if err := r.AddLazyService("lazy.echo", factory, desc, true, lazyConfig()); err != nil {
		t.Fatalf("AddLazyService: %v", err)
	}

	h, err := r.GetService(context.Background(), "lazy.echo")
	if err != nil {
		t.Fatalf("GetService: %v", err)
	}
	h.Release()

	waitForUnregistered(t, r, "lazy.echo")

	// The binding survives teardown; the next lookup starts a fresh instance.
	h2, err := r.GetService(context.Background(), "lazy.echo")
	if err != nil {
		t.Fatalf("GetService after teardown: %v", err)
	}
	defer h2.Release()
	if starts.Load() != 2 {
		t.Errorf("starts = %d, want 2", starts.Load())
	}
	if h2.ID() == h.ID() {
		t.Error("restart reused the old handle identity")
	}
}

func TestReAddAfterTeardown(t *testing.T) {
	r, desc := newTestRegistry(t)

	factory := func(_ context.Context) (service.Instance, error) {
		return &echoInstance{}, nil
	}
	if err := r.AddLazyService("echo", factory, desc, true, lazyConfig()); err != nil {
		t.Fatalf("AddLazyService: %v", err)
	}

	// Live lazy binding conflicts with new registrations.
	h, err := r.GetService(context.Background(), "echo")
	if err != nil {
		t.Fatalf("GetService: %v", err)
	}
	if _, err := r.AddService("echo", echoImpl{}, desc, true); !errors.Is(err, ErrNameConflict) {
		t.Errorf("AddService over live binding err = %v, want ErrNameConflict", err)
	}
	h.Release()

	waitForUnregistered(t, r, "echo")

	// After teardown the name can be rebound.
	if _, err := r.AddService("echo", echoImpl{}, desc, true); err != nil {
		t.Fatalf("AddService after teardown: %v", err)
	}
	h2, err := r.GetService(context.Background(), "echo")
	if err != nil {
		t.Fatalf("GetService after rebind: %v", err)
	}
	h2.Release()
}

func TestInspectAll(t *testing.T) {
	r, desc := newTestRegistry(t)

	if _, err := r.AddService("public", echoImpl{}, desc, true); err != nil {
		t.Fatalf("AddService: %v", err)
	}
	if _, err := r.AddService("private", echoImpl{}, desc, false); err != nil {
		t.Fatalf("AddService: %v", err)
	}

	h, err := r.GetService(context.Background(), "public")
	if err != nil {
		t.Fatalf("GetService: %v", err)
	}
	defer h.Release()

	infos := r.InspectAll()
	if len(infos) != 2 {
		t.Fatalf("InspectAll returned %d entries, want 2 (non-exported included)", len(infos))
	}

	byName := make(map[string]Info, len(infos))
	for _, info := range infos {
		byName[info.Name] = info
	}
	if got := byName["public"].Refs; got != 1 {
		t.Errorf("public refs = %d, want 1", got)
	}
	if got := byName["private"].Refs; got != 0 {
		t.Errorf("private refs = %d, want 0", got)
	}
}

func TestConcurrentReleaseNeverGoesNegative(t *testing.T) {
	r, desc := newTestRegistry(t)

	h, err := r.AddService("echo", echoImpl{}, desc, true)
	if err != nil {
		t.Fatalf("AddService: %v", err)
	}
	if err := h.Retain(); err != nil {
		t.Fatalf("Retain: %v", err)
	}

	// One outstanding reference, many competing releases.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Release()
		}()
	}
	wg.Wait()

	if got := h.Refs(); got != 0 {
		t.Errorf("refs = %d after over-release, want 0", got)
	}

	// The handle still works after the storm.
	if err := h.Retain(); err != nil {
		t.Fatalf("Retain after over-release: %v", err)
	}
	if got := h.Refs(); got != 1 {
		t.Errorf("refs = %d, want 1", got)
	}
	h.Release()
}

func TestInspect(t *testing.T) {
	r, desc := newTestRegistry(t)

	if _, err := r.AddService("echo", echoImpl{}, desc, true); err != nil {
		t.Fatalf("AddService: %v", err)
	}

	info, ok := r.Inspect("echo")
	if !ok {
		t.Fatal("Inspect returned no info")
	}
	if info.Name != "echo" || info.Lazy || !info.Exported {
		t.Errorf("info = %+v", info)
	}
	if info.Interface != desc.Ref() {
		t.Errorf("interface = %v, want %v", info.Interface, desc.Ref())
	}
	if info.Stability != "unstable" {
		t.Errorf("stability = %q, want unstable", info.Stability)
	}
	if info.State != lifecycle.StateActive {
		t.Errorf("state = %s, want %s", info.State, lifecycle.StateActive)
	}

	if _, ok := r.Inspect("ghost"); ok {
		t.Error("Inspect(ghost) returned info")
	}
}

func waitForUnregistered(t *testing.T, r *Registry, name string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		info, ok := r.Inspect(name)
		if ok && info.State == lifecycle.StateUnregistered {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("service %s never reached unregistered", name)
}
