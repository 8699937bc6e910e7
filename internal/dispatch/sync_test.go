package dispatch_test

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/threaddispatch/internal/dispatch"
	"github.com/mattjoyce/threaddispatch/internal/dispatch/mocks"
)

// Scenario C: three concurrent callers dispatch 100 jobs each.
func TestConcurrentDispatchIDsAreContiguous(t *testing.T) {
	d, err := dispatch.New(4)
	require.NoError(t, err)
	defer d.Shutdown()

	const callers, perCaller = 3, 100

	var (
		mu  sync.Mutex
		ids []dispatch.JobID
	)
	var g errgroup.Group
	for range callers {
		g.Go(func() error {
			local := make([]dispatch.JobID, 0, perCaller)
			for range perCaller {
				id, err := d.Dispatch(func() {})
				if err != nil {
					return err
				}
				if n := len(local); n > 0 && id <= local[n-1] {
					return errors.New("ids not increasing within one caller")
				}
				local = append(local, id)
			}
			mu.Lock()
			ids = append(ids, local...)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Len(t, ids, callers*perCaller)
	slices.Sort(ids)
	for i, id := range ids {
		assert.Equal(t, dispatch.JobID(i), id)
	}

	d.Wait()
	assert.True(t, d.Finished())
	assert.True(t, d.FinishedIDs(ids...))
}

func TestFinishedNeverBeforeBodyReturns(t *testing.T) {
	d, err := dispatch.New(4)
	require.NoError(t, err)
	defer d.Shutdown()

	const n = 200
	var returned [n]atomic.Bool
	ids := make([]dispatch.JobID, n)
	for i := range n {
		id, err := d.Dispatch(func() {
			time.Sleep(time.Duration(i%5) * 100 * time.Microsecond)
			returned[i].Store(true)
		})
		require.NoError(t, err)
		ids[i] = id
	}

	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			for !d.FinishedID(ids[i]) {
				time.Sleep(50 * time.Microsecond)
			}
			if !returned[i].Load() {
				return errors.New("finished reported before body returned")
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestConcurrentWaitersEachConsumeOwnID(t *testing.T) {
	d, err := dispatch.New(3)
	require.NoError(t, err)
	defer d.Shutdown()

	const n = 60
	ids := make([]dispatch.JobID, n)
	for i := range n {
		id, err := d.Dispatch(func() { time.Sleep(time.Millisecond) })
		require.NoError(t, err)
		ids[i] = id
	}

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error { return d.WaitID(id) })
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 0, d.Stats().Finished)
}

func TestObserverLifecycle(t *testing.T) {
	ctrl := gomock.NewController(t)
	obs := mocks.NewMockObserver(ctrl)

	gomock.InOrder(
		obs.EXPECT().JobDispatched(dispatch.JobID(0)),
		obs.EXPECT().JobStarted(dispatch.JobID(0)),
		obs.EXPECT().JobFinished(dispatch.JobID(0), gomock.Any(), nil),
	)

	d, err := dispatch.New(1, dispatch.WithObserver(obs))
	require.NoError(t, err)

	id, err := d.Dispatch(func() {})
	require.NoError(t, err)
	require.NoError(t, d.WaitID(id))
	d.Shutdown()
}

func TestObserverSeesPanic(t *testing.T) {
	ctrl := gomock.NewController(t)
	first := mocks.NewMockObserver(ctrl)
	second := mocks.NewMockObserver(ctrl)

	for _, obs := range []*mocks.MockObserver{first, second} {
		obs.EXPECT().JobDispatched(dispatch.JobID(0))
		obs.EXPECT().JobStarted(dispatch.JobID(0))
		obs.EXPECT().JobFinished(dispatch.JobID(0), gomock.Any(), gomock.Any()).
			Do(func(id dispatch.JobID, _ time.Duration, err error) {
				var pe *dispatch.PanicError
				if assert.ErrorAs(t, err, &pe) {
					assert.Equal(t, id, pe.ID)
					assert.Equal(t, "kaboom", pe.Value)
					assert.NotEmpty(t, pe.Stack)
				}
			})
	}

	d, err := dispatch.New(1, dispatch.WithObserver(first), dispatch.WithObserver(second), dispatch.WithObserver(nil))
	require.NoError(t, err)

	id, err := d.Dispatch(func() { panic("kaboom") })
	require.NoError(t, err)
	require.NoError(t, d.WaitID(id))
	d.Shutdown()
}

func TestPanickingObserverDoesNotKillWorker(t *testing.T) {
	ctrl := gomock.NewController(t)
	faulty := mocks.NewMockObserver(ctrl)
	healthy := mocks.NewMockObserver(ctrl)

	faulty.EXPECT().JobDispatched(gomock.Any()).Do(func(dispatch.JobID) { panic("dispatched hook") }).Times(2)
	faulty.EXPECT().JobStarted(gomock.Any()).Do(func(dispatch.JobID) { panic("started hook") }).Times(2)
	faulty.EXPECT().JobFinished(gomock.Any(), gomock.Any(), gomock.Any()).
		Do(func(dispatch.JobID, time.Duration, error) { panic("finished hook") }).Times(2)

	healthy.EXPECT().JobDispatched(gomock.Any()).Times(2)
	healthy.EXPECT().JobStarted(gomock.Any()).Times(2)
	healthy.EXPECT().JobFinished(gomock.Any(), gomock.Any(), nil).Times(2)

	d, err := dispatch.New(1, dispatch.WithObserver(faulty), dispatch.WithObserver(healthy))
	require.NoError(t, err)

	var ran atomic.Int32
	for range 2 {
		id, err := d.Dispatch(func() { ran.Add(1) })
		require.NoError(t, err)
		require.NoError(t, d.WaitID(id))
	}

	assert.Equal(t, int32(2), ran.Load())
	stats := d.Stats()
	assert.Equal(t, uint64(2), stats.Completed)
	assert.Equal(t, uint64(0), stats.Panicked)
	d.Shutdown()
}
