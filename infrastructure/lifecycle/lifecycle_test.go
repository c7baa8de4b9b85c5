package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeService struct {
	name        string
	startErr    error
	started     bool
	stopped     bool
	startOrder  *[]string
	stopOrder   *[]string
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	if f.startOrder != nil {
		*f.startOrder = append(*f.startOrder, f.name)
	}
	return nil
}

func (f *fakeService) Stop(ctx context.Context) error {
	f.stopped = true
	if f.stopOrder != nil {
		*f.stopOrder = append(*f.stopOrder, f.name)
	}
	return nil
}

func TestManagerStartsAndStopsInOrder(t *testing.T) {
	var starts, stops []string
	m := NewManager()
	a := &fakeService{name: "a", startOrder: &starts, stopOrder: &stops}
	b := &fakeService{name: "b", startOrder: &starts, stopOrder: &stops}
	assert.NoError(t, m.Register(a))
	assert.NoError(t, m.Register(b))

	assert.NoError(t, m.Start(context.Background()))
	assert.Equal(t, []string{"a", "b"}, starts)

	assert.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, []string{"b", "a"}, stops)
}

func TestManagerRollsBackOnStartFailure(t *testing.T) {
	var starts, stops []string
	m := NewManager()
	a := &fakeService{name: "a", startOrder: &starts, stopOrder: &stops}
	b := &fakeService{name: "b", startErr: errors.New("boom")}
	c := &fakeService{name: "c", startOrder: &starts, stopOrder: &stops}
	assert.NoError(t, m.Register(a))
	assert.NoError(t, m.Register(b))
	assert.NoError(t, m.Register(c))

	err := m.Start(context.Background())
	assert.Error(t, err)
	assert.True(t, a.started)
	assert.False(t, c.started, "services after the failed one must not start")
	assert.True(t, a.stopped, "already-started services must be rolled back")
}

func TestManagerRegisterAfterStartRejected(t *testing.T) {
	m := NewManager()
	assert.NoError(t, m.Start(context.Background()))
	err := m.Register(&fakeService{name: "late"})
	assert.Error(t, err)
}
