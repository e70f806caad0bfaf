package builder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/storydev/internal/config"
	ferrors "git.home.luguber.info/inful/storydev/internal/foundation/errors"
)

// fakeHandle is a scriptable Handle. When block is set, Start waits until the
// handle is bailed or the context ends.
type fakeHandle struct {
	name     string
	result   Result
	startErr error
	block    bool
	bailErr  error
	bailHang bool
	bailFn   func()

	starts atomic.Int32
	bails  atomic.Int32

	once    sync.Once
	bailed  chan struct{}
	started chan struct{}
}

func newFake(name string) *fakeHandle {
	return &fakeHandle{
		name:    name,
		result:  Result{Subsystem: name, URL: "http://localhost:6006/" + name},
		bailed:  make(chan struct{}),
		started: make(chan struct{}, 1),
	}
}

func (f *fakeHandle) Start(ctx context.Context, _ StartContext) (Result, error) {
	f.starts.Add(1)
	f.started <- struct{}{}
	if f.block {
		select {
		case <-f.bailed:
			return Result{}, ferrors.CanceledError(f.name + " bailed").Build()
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if f.startErr != nil {
		return Result{}, f.startErr
	}
	return f.result, nil
}

func (f *fakeHandle) Bail(ctx context.Context) error {
	f.bails.Add(1)
	f.once.Do(func() { close(f.bailed) })
	if f.bailFn != nil {
		f.bailFn()
	}
	if f.bailHang {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.bailErr
}

func (f *fakeHandle) Config(*config.Options) Config {
	return Config{Subsystem: f.name, Values: map[string]any{"fake": true}}
}

func startContext(skipPreview bool) StartContext {
	opts := &config.Options{}
	opts.Preview.Skip = skipPreview
	return StartContext{StartTime: time.Now(), Options: opts}
}

func TestRun_BothSucceed(t *testing.T) {
	preview, manager := newFake(SubsystemPreview), newFake(SubsystemManager)
	o := NewOrchestrator(preview, manager)

	out, err := o.Run(t.Context(), startContext(false))
	require.NoError(t, err)

	assert.Equal(t, preview.result, out.Preview)
	assert.Equal(t, manager.result, out.Manager)
	assert.Zero(t, preview.bails.Load())
	assert.Zero(t, manager.bails.Load())
	assert.Equal(t, StateBothSucceeded, o.State())
}

func TestRun_OneFailsBailsSiblingOnce(t *testing.T) {
	tests := []struct {
		name    string
		bailErr error
	}{
		{name: "bail succeeds"},
		{name: "bail fails", bailErr: errors.New("bail exploded")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			preview, manager := newFake(SubsystemPreview), newFake(SubsystemManager)
			startErr := ferrors.BuildError("preview compile failed").Build()
			preview.startErr = startErr
			manager.block = true
			manager.bailErr = tt.bailErr

			o := NewOrchestrator(preview, manager)
			_, err := o.Run(t.Context(), startContext(false))

			require.ErrorIs(t, err, startErr)
			assert.Equal(t, int32(1), manager.bails.Load())
			assert.Equal(t, StateOneFailedOtherBailed, o.State())
		})
	}
}

func TestRun_BailPanicIsSwallowed(t *testing.T) {
	preview, manager := newFake(SubsystemPreview), newFake(SubsystemManager)
	startErr := errors.New("manager failed")
	manager.startErr = startErr
	preview.block = true
	preview.bailFn = func() { panic("boom") }

	o := NewOrchestrator(preview, manager)
	_, err := o.Run(t.Context(), startContext(false))

	require.ErrorIs(t, err, startErr)
	assert.Equal(t, int32(1), preview.bails.Load())
}

func TestRun_HangingBailIsBounded(t *testing.T) {
	preview, manager := newFake(SubsystemPreview), newFake(SubsystemManager)
	startErr := errors.New("manager failed")
	manager.startErr = startErr
	preview.block = true
	preview.bailHang = true

	o := NewOrchestrator(preview, manager, WithBailTimeout(50*time.Millisecond))

	began := time.Now()
	_, err := o.Run(t.Context(), startContext(false))

	require.ErrorIs(t, err, startErr)
	assert.Less(t, time.Since(began), 2*time.Second)
}

func TestRun_SiblingBailErrorNeverSurfaces(t *testing.T) {
	for range 5 {
		preview, manager := newFake(SubsystemPreview), newFake(SubsystemManager)
		inUse := ferrors.NetworkError("EADDRINUSE").Build()
		manager.startErr = inUse
		preview.block = true
		// Start returns as soon as bailed is closed, while Bail is still running.
		preview.bailFn = func() { time.Sleep(20 * time.Millisecond) }

		_, err := NewOrchestrator(preview, manager).Run(t.Context(), startContext(false))

		require.ErrorIs(t, err, inUse)
		assert.False(t, ferrors.HasCategory(err, ferrors.CategoryCanceled), "got sibling error %v", err)
		assert.Equal(t, int32(1), preview.bails.Load())
	}
}

func TestRun_SkippedPreviewNeverBailed(t *testing.T) {
	preview, manager := newFake(SubsystemPreview), newFake(SubsystemManager)
	startErr := errors.New("manager failed")
	manager.startErr = startErr

	o := NewOrchestrator(preview, manager)
	_, err := o.Run(t.Context(), startContext(true))

	require.ErrorIs(t, err, startErr)
	assert.Zero(t, preview.starts.Load())
	assert.Zero(t, preview.bails.Load())
}

func TestRun_SkippedPreviewYieldsEmptyResult(t *testing.T) {
	preview, manager := newFake(SubsystemPreview), newFake(SubsystemManager)

	out, err := NewOrchestrator(preview, manager).Run(t.Context(), startContext(true))
	require.NoError(t, err)

	assert.True(t, out.Preview.IsZero())
	assert.Equal(t, manager.result, out.Manager)
}

func TestRun_ManagerAddressInUseBailsPendingPreview(t *testing.T) {
	preview, manager := newFake(SubsystemPreview), newFake(SubsystemManager)
	preview.block = true
	inUse := ferrors.NetworkError("EADDRINUSE").WithContext("port", 6006).Build()
	manager.startErr = inUse

	o := NewOrchestrator(preview, manager)
	_, err := o.Run(t.Context(), startContext(false))

	require.ErrorIs(t, err, inUse)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNetwork))
	// The bail completed before Run surfaced the error.
	assert.Equal(t, int32(1), preview.bails.Load())
	select {
	case <-preview.bailed:
	default:
		t.Fatal("preview was not bailed")
	}
}

func TestRun_BothFailReturnsEitherError(t *testing.T) {
	preview, manager := newFake(SubsystemPreview), newFake(SubsystemManager)
	previewErr := errors.New("preview failed")
	managerErr := errors.New("manager failed")
	preview.startErr = previewErr
	manager.startErr = managerErr

	_, err := NewOrchestrator(preview, manager).Run(t.Context(), startContext(false))

	require.Error(t, err)
	assert.True(t, errors.Is(err, previewErr) || errors.Is(err, managerErr), "unexpected error %v", err)
}

func TestRun_SecondRunFails(t *testing.T) {
	o := NewOrchestrator(newFake(SubsystemPreview), newFake(SubsystemManager))
	_, err := o.Run(t.Context(), startContext(false))
	require.NoError(t, err)

	_, err = o.Run(t.Context(), startContext(false))
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryRuntime))
}

func TestRun_StartPanicBecomesError(t *testing.T) {
	preview := &panicHandle{}
	manager := newFake(SubsystemManager)
	manager.block = true

	_, err := NewOrchestrator(preview, manager).Run(t.Context(), startContext(false))

	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryBuild))
	assert.Equal(t, int32(1), manager.bails.Load())
}

func TestRun_ContextCanceledBailsBoth(t *testing.T) {
	preview, manager := newFake(SubsystemPreview), newFake(SubsystemManager)
	preview.block = true
	manager.block = true

	ctx, cancel := context.WithCancel(t.Context())
	o := NewOrchestrator(preview, manager)

	errCh := make(chan error, 1)
	go func() {
		_, err := o.Run(ctx, startContext(false))
		errCh <- err
	}()
	<-preview.started
	<-manager.started
	cancel()

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.GreaterOrEqual(t, preview.bails.Load(), int32(1))
	assert.GreaterOrEqual(t, manager.bails.Load(), int32(1))
}

type panicHandle struct{}

func (panicHandle) Start(context.Context, StartContext) (Result, error) { panic("start blew up") }
func (panicHandle) Bail(context.Context) error                          { return nil }
func (panicHandle) Config(*config.Options) Config                       { return Config{Subsystem: "panic"} }
