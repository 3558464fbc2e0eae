package pngshrink

import (
	"sync"
	"testing"
)

func TestAtomicMinUnset(t *testing.T) {
	m := NewAtomicMin()
	if _, ok := m.Get(); ok {
		t.Error("fresh minimum should be unset")
	}
	if !m.SetMin(100) {
		t.Error("first value should win")
	}
	if v, ok := m.Get(); !ok || v != 100 {
		t.Errorf("got (%d,%v), want (100,true)", v, ok)
	}
}

func TestAtomicMinMonotonic(t *testing.T) {
	m := NewAtomicMinSeeded(50)
	if m.SetMin(60) {
		t.Error("larger value must not win")
	}
	if m.SetMin(50) {
		t.Error("equal value must not win")
	}
	if !m.SetMin(49) {
		t.Error("smaller value must win")
	}
	if v, _ := m.Get(); v != 49 {
		t.Errorf("min = %d, want 49", v)
	}
}

func TestAtomicMinConcurrent(t *testing.T) {
	m := NewAtomicMin()
	var wg sync.WaitGroup
	for i := 1; i <= 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			m.SetMin(n)
		}(i)
	}
	wg.Wait()
	if v, ok := m.Get(); !ok || v != 1 {
		t.Errorf("min = %d, want 1", v)
	}
}
