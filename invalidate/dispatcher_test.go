package invalidate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meadowfold/cattery"
)

type fakeRenderer struct {
	mu     sync.Mutex
	paths  []string
	failOn map[string]bool
}

func (r *fakeRenderer) Render(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	if r.failOn[path] {
		return errors.New("render failed")
	}
	return nil
}

func (r *fakeRenderer) rendered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.paths...)
}

type fakePurger struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (p *fakePurger) Purge(_ context.Context, paths []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, paths)
	return p.err
}

func (p *fakePurger) purged() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.batches
}

func TestDispatch_RegeneratesEveryPath(t *testing.T) {
	renderer := &fakeRenderer{}
	d := NewDispatcher(renderer, nil)

	d.Dispatch(context.Background(), cattery.NewInvalidationRequest("/cats/mila", "/", "/cats"))
	d.Wait()

	require.Equal(t, []string{"/cats/mila", "/", "/cats"}, renderer.rendered())
}

func TestDispatch_EmptyRequestIsNoop(t *testing.T) {
	renderer := &fakeRenderer{}
	d := NewDispatcher(renderer, nil)

	d.Dispatch(context.Background(), cattery.NewInvalidationRequest())
	d.Wait()

	require.Empty(t, renderer.rendered())
}

func TestDispatch_FailuresAreIndependent(t *testing.T) {
	renderer := &fakeRenderer{failOn: map[string]bool{"/": true}}
	d := NewDispatcher(renderer, nil)

	d.Dispatch(context.Background(), cattery.NewInvalidationRequest("/cats/mila", "/", "/cats"))
	d.Wait()

	// the failing path did not stop the rest
	require.Equal(t, []string{"/cats/mila", "/", "/cats"}, renderer.rendered())
}

func TestDispatch_PurgesSingleBatchInProduction(t *testing.T) {
	renderer := &fakeRenderer{}
	purger := &fakePurger{}
	d := NewDispatcher(renderer, purger, WithProduction(true))

	d.Dispatch(context.Background(), cattery.NewInvalidationRequest("/cats/mila", "/", "/cats"))
	d.Wait()

	batches := purger.purged()
	require.Len(t, batches, 1)
	require.Equal(t, []string{"/cats/mila", "/", "/cats"}, batches[0])
}

func TestDispatch_NoPurgeOutsideProduction(t *testing.T) {
	renderer := &fakeRenderer{}
	purger := &fakePurger{}
	d := NewDispatcher(renderer, purger)

	d.Dispatch(context.Background(), cattery.NewInvalidationRequest("/cats/mila"))
	d.Wait()

	require.Empty(t, purger.purged())
}

func TestDispatch_PurgeFailureDoesNotPanic(t *testing.T) {
	renderer := &fakeRenderer{}
	purger := &fakePurger{err: errors.New("purge failed")}
	d := NewDispatcher(renderer, purger, WithProduction(true))

	d.Dispatch(context.Background(), cattery.NewInvalidationRequest("/cats/mila"))
	d.Wait()

	require.Len(t, purger.purged(), 1)
}

func TestDispatch_SurvivesCancelledRequestContext(t *testing.T) {
	renderer := &fakeRenderer{}
	d := NewDispatcher(renderer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d.Dispatch(ctx, cattery.NewInvalidationRequest("/cats/mila"))
	d.Wait()

	require.Equal(t, []string{"/cats/mila"}, renderer.rendered())
}
