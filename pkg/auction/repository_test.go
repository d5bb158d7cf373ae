package auction

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fogauction/control-plane/pkg/fogtypes"
)

func TestTryReserveAndInsertFeasible(t *testing.T) {
	repo := NewRepository()
	node := fogtypes.NewNodeId()
	available := map[fogtypes.NodeId]fogtypes.ResourceReservation{
		node: {CpuMillicpu: 2000, RamBytes: 2 << 30},
	}
	demand := fogtypes.ResourceReservation{CpuMillicpu: 500, RamBytes: 1 << 20}

	rec, ok := repo.TryReserveAndInsert([]fogtypes.NodeId{node}, available, demand, func(n fogtypes.NodeId) *fogtypes.BidRecord {
		return &fogtypes.BidRecord{
			Id:          fogtypes.NewBidId(),
			NodeId:      n,
			Reservation: demand,
			Price:       sdkmath.LegacyNewDec(1),
			Status:      fogtypes.StatusPending,
			CreatedAt:   time.Now(),
		}
	})
	require.True(t, ok)
	assert.Equal(t, node, rec.NodeId)
	assert.Equal(t, fogtypes.ResourceReservation{CpuMillicpu: 500, RamBytes: 1 << 20}, repo.Reserved(node))
}

func TestTryReserveAndInsertInfeasibleRejected(t *testing.T) {
	repo := NewRepository()
	node := fogtypes.NewNodeId()
	available := map[fogtypes.NodeId]fogtypes.ResourceReservation{
		node: {CpuMillicpu: 100, RamBytes: 1 << 20},
	}
	demand := fogtypes.ResourceReservation{CpuMillicpu: 500, RamBytes: 1 << 20}

	_, ok := repo.TryReserveAndInsert([]fogtypes.NodeId{node}, available, demand, func(n fogtypes.NodeId) *fogtypes.BidRecord {
		t.Fatal("build must not be called for an infeasible candidate")
		return nil
	})
	assert.False(t, ok)
	assert.Equal(t, 0, repo.Len())
}

// TestTryReserveAndInsertRacesAgainstConcurrentReservation asserts the
// single-critical-section property spec.md §5 demands: two goroutines
// racing to reserve the same slack never both succeed.
func TestTryReserveAndInsertRacesAgainstConcurrentReservation(t *testing.T) {
	repo := NewRepository()
	node := fogtypes.NewNodeId()
	available := map[fogtypes.NodeId]fogtypes.ResourceReservation{
		node: {CpuMillicpu: 1000, RamBytes: 1 << 30},
	}
	demand := fogtypes.ResourceReservation{CpuMillicpu: 600, RamBytes: 1 << 20}
	build := func(n fogtypes.NodeId) *fogtypes.BidRecord {
		return &fogtypes.BidRecord{Id: fogtypes.NewBidId(), NodeId: n, Reservation: demand, Status: fogtypes.StatusPending, CreatedAt: time.Now()}
	}

	results := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, ok := repo.TryReserveAndInsert([]fogtypes.NodeId{node}, available, demand, build)
			results <- ok
		}()
	}
	successes := 0
	for i := 0; i < 2; i++ {
		if <-results {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
}

func TestExpirePendingOlderThan(t *testing.T) {
	repo := NewRepository()
	node := fogtypes.NewNodeId()
	available := map[fogtypes.NodeId]fogtypes.ResourceReservation{node: {CpuMillicpu: 1000, RamBytes: 1 << 30}}
	demand := fogtypes.ResourceReservation{CpuMillicpu: 100, RamBytes: 1 << 20}

	old := time.Now().Add(-time.Hour)
	_, ok := repo.TryReserveAndInsert([]fogtypes.NodeId{node}, available, demand, func(n fogtypes.NodeId) *fogtypes.BidRecord {
		return &fogtypes.BidRecord{Id: fogtypes.NewBidId(), NodeId: n, Reservation: demand, Status: fogtypes.StatusPending, CreatedAt: old}
	})
	require.True(t, ok)

	expired := repo.ExpirePendingOlderThan(time.Minute, time.Now())
	assert.Len(t, expired, 1)
	assert.Equal(t, fogtypes.ResourceReservation{}, repo.Reserved(node))
}

func TestCancelReleases(t *testing.T) {
	repo := NewRepository()
	node := fogtypes.NewNodeId()
	available := map[fogtypes.NodeId]fogtypes.ResourceReservation{node: {CpuMillicpu: 1000, RamBytes: 1 << 30}}
	demand := fogtypes.ResourceReservation{CpuMillicpu: 100, RamBytes: 1 << 20}

	rec, ok := repo.TryReserveAndInsert([]fogtypes.NodeId{node}, available, demand, func(n fogtypes.NodeId) *fogtypes.BidRecord {
		return &fogtypes.BidRecord{Id: fogtypes.NewBidId(), NodeId: n, Reservation: demand, Status: fogtypes.StatusPending, CreatedAt: time.Now()}
	})
	require.True(t, ok)

	repo.Cancel(rec.Id)
	got, ok := repo.Get(rec.Id)
	require.True(t, ok)
	assert.Equal(t, fogtypes.StatusCancelled, got.Status)
	assert.Equal(t, fogtypes.ResourceReservation{}, repo.Reserved(node))
}
