package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testQueue(t *testing.T, soft, hard int) *CentralQueue {
	t.Helper()
	return NewCentralQueue(zap.NewNop(), QueueOptions{SoftLimit: soft, HardLimit: hard})
}

func detectTask(frameIdx int) *Task {
	return &Task{Category: VehicleDetect, VideoID: "video", FrameIdx: frameIdx}
}

func TestPushPopFIFO(t *testing.T) {
	q := testQueue(t, 4, 8)
	for i := 0; i < 3; i++ {
		require.True(t, q.Push(detectTask(i)))
	}
	for i := 0; i < 3; i++ {
		task := q.Pop(VehicleDetect)
		require.NotNil(t, task)
		require.Equal(t, i, task.FrameIdx)
	}
	require.Nil(t, q.Pop(VehicleDetect))
}

func TestCategoriesIsolated(t *testing.T) {
	q := testQueue(t, 4, 8)
	require.True(t, q.Push(detectTask(0)))
	require.True(t, q.Push(&Task{Category: OCR, VideoID: "video"}))

	require.Equal(t, 1, q.Backlog(VehicleDetect))
	require.Equal(t, 1, q.Backlog(OCR))
	require.Equal(t, 0, q.Backlog(PlateDetect))
	require.Equal(t, 2, q.TotalBacklog())
	require.Equal(t, 2, q.GPUBacklog())
	require.Equal(t, 0, q.CPUBacklog())

	require.Nil(t, q.Pop(PlateDetect))
	require.NotNil(t, q.Pop(OCR))
	require.Equal(t, 1, q.TotalBacklog())
}

func TestHardLimitRefuses(t *testing.T) {
	q := testQueue(t, 4, 8)
	for i := 0; i < 8; i++ {
		require.True(t, q.Push(detectTask(i)))
	}
	// At the hard limit pushes fail; nothing is evicted and the
	// advisory flag is already raised
	require.False(t, q.Push(detectTask(8)))
	require.Equal(t, 8, q.Backlog(VehicleDetect))
	require.True(t, q.IsBackedUp(VehicleDetect))

	// Draining one makes room for exactly one
	require.NotNil(t, q.Pop(VehicleDetect))
	require.True(t, q.Push(detectTask(8)))
	require.False(t, q.Push(detectTask(9)))
}

func TestBackedUpThresholds(t *testing.T) {
	// soft 4, recover = floor(0.8 * 4) = 3
	q := testQueue(t, 4, 8)
	for i := 0; i < 3; i++ {
		q.Push(detectTask(i))
		require.False(t, q.IsBackedUp(VehicleDetect))
	}
	q.Push(detectTask(3))
	require.True(t, q.IsBackedUp(VehicleDetect))
	require.Equal(t, []TaskCategory{VehicleDetect}, q.BackedUp())

	// Draining to the recovery depth is not enough, the flag clears
	// strictly below it
	q.Pop(VehicleDetect) // depth 3
	require.True(t, q.IsBackedUp(VehicleDetect))
	q.Pop(VehicleDetect) // depth 2
	require.False(t, q.IsBackedUp(VehicleDetect))
	require.Empty(t, q.BackedUp())
}

func TestBackedUpStaysWhileAboveRecovery(t *testing.T) {
	q := testQueue(t, 4, 16)
	for i := 0; i < 6; i++ {
		q.Push(detectTask(i))
	}
	require.True(t, q.IsBackedUp(VehicleDetect))

	// Oscillating around the soft limit must not flap the flag
	q.Pop(VehicleDetect) // 5
	q.Push(detectTask(6))
	q.Pop(VehicleDetect) // 5
	q.Pop(VehicleDetect) // 4
	q.Pop(VehicleDetect) // 3
	require.True(t, q.IsBackedUp(VehicleDetect))
	q.Pop(VehicleDetect) // 2
	require.False(t, q.IsBackedUp(VehicleDetect))
}

func TestSnapshot(t *testing.T) {
	q := testQueue(t, 4, 8)
	q.Push(detectTask(0))
	q.Push(&Task{Category: FinalWrite})
	q.Push(&Task{Category: FinalWrite})

	snap := q.Snapshot()
	require.Equal(t, 1, snap[VehicleDetect])
	require.Equal(t, 2, snap[FinalWrite])
	require.Equal(t, 0, snap[OCR])
	require.Len(t, snap, len(Categories()))
}

func TestShutdownDrainsEverything(t *testing.T) {
	q := testQueue(t, 4, 8)
	q.Push(detectTask(0))
	q.Push(&Task{Category: PlateSmooth})
	q.Push(&Task{Category: FinalWrite})

	abandoned := q.Shutdown()
	require.Len(t, abandoned, 3)
	require.Equal(t, 0, q.TotalBacklog())
}

func BenchmarkPushPop(b *testing.B) {
	q := NewCentralQueue(zap.NewNop(), QueueOptions{SoftLimit: 512, HardLimit: 1024})
	task := detectTask(0)
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		if !q.Push(task) {
			b.Fatal("push refused")
		}
		if q.Pop(VehicleDetect) == nil {
			b.Fatal("pop failed")
		}
	}
}
