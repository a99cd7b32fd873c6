package fake_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/dsplatform/internal/runtime"
	"github.com/seantiz/dsplatform/internal/runtime/fake"
)

func TestImageInspectAndPull(t *testing.T) {
	ctx := context.Background()
	rt := fake.New()

	err := rt.InspectImage(ctx, "grafana/k6:0.54.0")
	require.ErrorIs(t, err, runtime.ErrNotFound)

	var events []runtime.PullEvent
	require.NoError(t, rt.PullImage(ctx, "grafana/k6:0.54.0", func(ev runtime.PullEvent) {
		events = append(events, ev)
	}))
	assert.NotEmpty(t, events)
	assert.NoError(t, rt.InspectImage(ctx, "grafana/k6:0.54.0"))
	assert.Equal(t, 2, rt.Calls(fake.OpInspectImage))
	assert.Equal(t, 1, rt.Calls(fake.OpPullImage))
}

func TestContainerLifecycle(t *testing.T) {
	ctx := context.Background()
	rt := fake.New(fake.WithImages("busybox"))

	id, err := rt.CreateContainer(ctx, runtime.ContainerSpec{Name: "job-1", Image: "busybox"})
	require.NoError(t, err)
	require.NoError(t, rt.StartContainer(ctx, id))
	assert.Equal(t, runtime.StateRunning, rt.State("job-1"))

	codeCh := make(chan int64, 1)
	go func() {
		code, err := rt.WaitContainer(ctx, id)
		assert.NoError(t, err)
		codeCh <- code
	}()

	require.NoError(t, rt.Exit("job-1", 3))
	select {
	case code := <-codeCh:
		assert.Equal(t, int64(3), code)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitContainer did not return after exit")
	}

	require.NoError(t, rt.RemoveContainer(ctx, id, false))
	err = rt.RemoveContainer(ctx, id, true)
	assert.ErrorIs(t, err, runtime.ErrNotFound)
}

func TestCreateNameConflict(t *testing.T) {
	ctx := context.Background()
	rt := fake.New(fake.WithImages("busybox"))

	_, err := rt.CreateContainer(ctx, runtime.ContainerSpec{Name: "dup", Image: "busybox"})
	require.NoError(t, err)
	_, err = rt.CreateContainer(ctx, runtime.ContainerSpec{Name: "dup", Image: "busybox"})
	assert.ErrorIs(t, err, fake.ErrConflict)
}

func TestRemoveRunningRequiresForce(t *testing.T) {
	ctx := context.Background()
	rt := fake.New(fake.WithImages("busybox"))

	id, _ := rt.CreateContainer(ctx, runtime.ContainerSpec{Name: "job", Image: "busybox"})
	require.NoError(t, rt.StartContainer(ctx, id))

	assert.ErrorIs(t, rt.RemoveContainer(ctx, id, false), fake.ErrRunning)
	require.NoError(t, rt.RemoveContainer(ctx, id, true))
	assert.Equal(t, "", rt.State("job"))
}

func TestStopRecordsGraceAndExits(t *testing.T) {
	ctx := context.Background()
	rt := fake.New(fake.WithImages("busybox"))

	id, _ := rt.CreateContainer(ctx, runtime.ContainerSpec{Name: "job", Image: "busybox"})
	require.NoError(t, rt.StartContainer(ctx, id))
	require.NoError(t, rt.StopContainer(ctx, id, 5*time.Second))

	code, err := rt.WaitContainer(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(fake.ExitCodeStopped), code)
	assert.Equal(t, 5*time.Second, rt.LastStopGrace(id))
}

func TestAutoExit(t *testing.T) {
	ctx := context.Background()
	rt := fake.New(
		fake.WithImages("busybox"),
		fake.WithAutoExit(func(runtime.ContainerSpec) (time.Duration, int64, bool) {
			return 10 * time.Millisecond, 0, true
		}),
	)

	id, _ := rt.CreateContainer(ctx, runtime.ContainerSpec{Name: "job", Image: "busybox"})
	require.NoError(t, rt.StartContainer(ctx, id))

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	code, err := rt.WaitContainer(waitCtx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), code)
}

func TestWaitHonorsContext(t *testing.T) {
	rt := fake.New(fake.WithImages("busybox"))
	id, _ := rt.CreateContainer(context.Background(), runtime.ContainerSpec{Name: "job", Image: "busybox"})
	require.NoError(t, rt.StartContainer(context.Background(), id))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := rt.WaitContainer(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	rt := fake.New(fake.WithImages("busybox"))

	rt.AddContainer("service-a", map[string]string{"platform": "p"})
	rt.AddContainer("service-b", map[string]string{"platform": "other"})
	_, err := rt.CreateContainer(ctx, runtime.ContainerSpec{Name: "created-only", Image: "busybox", Labels: map[string]string{"platform": "p"}})
	require.NoError(t, err)

	running, err := rt.ListContainers(ctx, runtime.ListOptions{Labels: map[string]string{"platform": "p"}, Running: true})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.True(t, running[0].HasName("service-a"))

	all, err := rt.ListContainers(ctx, runtime.ListOptions{All: true, Name: "service"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestFailOn(t *testing.T) {
	ctx := context.Background()
	rt := fake.New()
	boom := errors.New("daemon unreachable")

	rt.FailOn(fake.OpListContainers, boom)
	_, err := rt.ListContainers(ctx, runtime.ListOptions{All: true})
	assert.ErrorIs(t, err, boom)

	rt.FailOn(fake.OpListContainers, nil)
	_, err = rt.ListContainers(ctx, runtime.ListOptions{All: true})
	assert.NoError(t, err)
	assert.Equal(t, 2, rt.TotalCalls())
}
