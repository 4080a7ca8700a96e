package main

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/panjf2000/ants/v2"
	"github.com/spf13/cobra"

	"github.com/srediag/shmsync/api"
)

var (
	holdFor          time.Duration
	stressWorkers    int
	stressIterations int
)

var holdCmd = &cobra.Command{
	Use:   "hold NAME",
	Short: "Hold the lock of a segment for a while",
	Long: `Hold the lock of a segment for a while, blocking every other participant.
Useful to observe contention by hand.`,
	Args: cobra.ExactArgs(1),
	RunE: runHold,
}

var stressCmd = &cobra.Command{
	Use:   "stress NAME",
	Short: "Contend for the lock of a segment and verify mutual exclusion",
	Long: `Contend for the lock of a segment from a pool of workers. Every worker
increments the 64-bit little-endian counter at offset 0 while holding the lock.
Lock entries and exits are checked for overlaps, and the counter must have
advanced by at least workers*iterations. Run several instances at once to
contend across processes.`,
	Args: cobra.ExactArgs(1),
	RunE: runStress,
}

func init() {
	holdCmd.Flags().DurationVar(&holdFor, "for", 10*time.Second, "how long to hold the lock")
	stressCmd.Flags().IntVarP(&stressWorkers, "workers", "w", 8, "concurrent workers")
	stressCmd.Flags().IntVarP(&stressIterations, "iterations", "i", 1000, "lock acquisitions per worker")
	rootCmd.AddCommand(holdCmd, stressCmd)
}

func runHold(cmd *cobra.Command, args []string) error {
	mu, _, release, err := attach(cmd, args[0])
	if err != nil {
		return err
	}
	defer release()

	return factory.WithLock(mu, func() error {
		fmt.Fprintf(cmd.OutOrStdout(), "holding %s for %s\n", mu.Name(), holdFor)
		time.Sleep(holdFor)
		return nil
	})
}

func runStress(cmd *cobra.Command, args []string) error {
	mu, seg, release, err := attach(cmd, args[0])
	if err != nil {
		return err
	}
	defer release()

	res, err := stress(mu, seg, stressWorkers, stressIterations)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d acquisitions in %s, counter %d -> %d\n",
		res.acquisitions, res.elapsed, res.before, res.after)
	return nil
}

// lockEvent is pushed while the lock is held, so the queue order is the
// order of the critical sections within this process.
type lockEvent struct {
	worker int
	enter  bool
}

type stressResult struct {
	acquisitions  int
	before, after uint64
	elapsed       time.Duration
}

func stress(mu api.NamedMutex, seg api.SharedMemorySegment, workers, iterations int) (stressResult, error) {
	if workers <= 0 || iterations <= 0 {
		return stressResult{}, fmt.Errorf("workers and iterations must be positive")
	}
	if seg.Size() < 8 {
		return stressResult{}, fmt.Errorf("segment of %d bytes cannot hold the counter", seg.Size())
	}
	counter := func() uint64 { return binary.LittleEndian.Uint64(seg.Bytes()) }

	var res stressResult
	_ = factory.WithLock(mu, func() error {
		res.before = counter()
		return nil
	})

	pool, err := ants.NewPool(workers)
	if err != nil {
		return res, err
	}
	defer pool.Release()

	events := queue.New(int64(2 * workers))
	defer events.Dispose()
	checked := make(chan error, 1)
	total := 2 * workers * iterations
	go func() { checked <- checkEvents(events, total) }()

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				lock := factory.CreateScopedLock(mu)
				_ = events.Put(lockEvent{worker: w, enter: true})
				binary.LittleEndian.PutUint64(seg.Bytes(), counter()+1)
				_ = events.Put(lockEvent{worker: w})
				lock.Release()
			}
		}); err != nil {
			wg.Done()
			return res, err
		}
	}
	wg.Wait()
	res.elapsed = time.Since(start)
	res.acquisitions = workers * iterations

	if err := <-checked; err != nil {
		return res, err
	}
	_ = factory.WithLock(mu, func() error {
		res.after = counter()
		return nil
	})
	if res.after-res.before < uint64(res.acquisitions) {
		return res, fmt.Errorf("counter advanced by %d, expected at least %d", res.after-res.before, res.acquisitions)
	}
	return res, nil
}

// checkEvents consumes total events and fails on the first enter that is not
// followed by the exit of the same worker.
func checkEvents(events *queue.Queue, total int) error {
	holder := -1
	for seen := 0; seen < total; {
		items, err := events.Get(64)
		if err != nil {
			return err
		}
		for _, item := range items {
			ev := item.(lockEvent)
			switch {
			case ev.enter && holder != -1:
				return fmt.Errorf("worker %d entered while worker %d held the lock", ev.worker, holder)
			case ev.enter:
				holder = ev.worker
			case holder != ev.worker:
				return fmt.Errorf("worker %d exited a lock held by %d", ev.worker, holder)
			default:
				holder = -1
			}
			seen++
		}
	}
	return nil
}
