// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package workerpool

import (
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
)

func TestNew(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	if pool.NumWorkers() != 4 {
		t.Errorf("NumWorkers() = %d, want 4", pool.NumWorkers())
	}
}

func TestNewDefault(t *testing.T) {
	pool := New(0)
	defer pool.Close()

	if pool.NumWorkers() != runtime.GOMAXPROCS(0) {
		t.Errorf("NumWorkers() = %d, want %d", pool.NumWorkers(), runtime.GOMAXPROCS(0))
	}
}

func TestParallelForAtomic(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	n := 100
	results := make([]int, n)

	pool.ParallelForAtomic(n, func(i int) {
		results[i] = i * 2
	})

	for i := 0; i < n; i++ {
		if results[i] != i*2 {
			t.Errorf("results[%d] = %d, want %d", i, results[i], i*2)
		}
	}
}

func TestParallelForAtomicZeroN(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	var called atomic.Bool
	pool.ParallelForAtomic(0, func(i int) {
		called.Store(true)
	})

	if called.Load() {
		t.Error("ParallelForAtomic with n=0 should not call fn")
	}
}

func TestEach(t *testing.T) {
	pool := New(3)
	defer pool.Close()

	var count atomic.Int32
	err := pool.Each(10, func(i int) error {
		count.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Each: %v", err)
	}
	if count.Load() != 10 {
		t.Errorf("count = %d, want 10", count.Load())
	}
}

func TestEachReturnsLowestError(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	errOdd := errors.New("odd")
	errSeven := errors.New("seven")
	var count atomic.Int32
	err := pool.Each(20, func(i int) error {
		count.Add(1)
		switch {
		case i == 7:
			return errSeven
		case i > 7 && i%2 == 1:
			return errOdd
		}
		return nil
	})
	if err != errSeven {
		t.Errorf("Each error = %v, want %v", err, errSeven)
	}
	if count.Load() != 20 {
		t.Errorf("count = %d, want every index to run", count.Load())
	}
}

func TestCloseMultipleTimes(t *testing.T) {
	pool := New(4)
	pool.Close()
	pool.Close() // Should not panic
}

func TestClosedPoolFallback(t *testing.T) {
	pool := New(4)
	pool.Close()

	n := 100
	results := make([]int, n)

	// Should still work (sequential fallback)
	pool.ParallelForAtomic(n, func(i int) {
		results[i] = i * 2
	})

	for i := 0; i < n; i++ {
		if results[i] != i*2 {
			t.Errorf("results[%d] = %d, want %d", i, results[i], i*2)
		}
	}
}

func BenchmarkEach(b *testing.B) {
	pool := New(0)
	defer pool.Close()

	n := 1000

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pool.Each(n, func(i int) error {
			_ = i * i
			return nil
		})
	}
}
