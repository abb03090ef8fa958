package clock

import (
	"testing"
	"time"
)

func TestMockTickerFiresOnAdd(t *testing.T) {
	start := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)
	m := NewMock(start)
	tk := m.NewTicker(10 * time.Minute)

	m.Add(5 * time.Minute)
	select {
	case <-tk.C():
		t.Fatal("ticker fired before its deadline")
	default:
	}

	m.Add(5 * time.Minute)
	select {
	case got := <-tk.C():
		if !got.Equal(start.Add(10 * time.Minute)) {
			t.Fatalf("tick time = %v, want %v", got, start.Add(10*time.Minute))
		}
	default:
		t.Fatal("ticker did not fire at its deadline")
	}
}

func TestMockTickerDropsWhenFull(t *testing.T) {
	m := NewMock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	tk := m.NewTicker(time.Minute)

	m.Add(time.Minute)
	m.Add(time.Minute)
	m.Add(time.Minute)

	n := 0
	for {
		select {
		case <-tk.C():
			n++
			continue
		default:
		}
		break
	}
	if n != 1 {
		t.Fatalf("buffered ticks = %d, want 1", n)
	}
}

func TestMockTickerStop(t *testing.T) {
	m := NewMock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	tk := m.NewTicker(time.Minute)
	tk.Stop()
	m.Add(time.Hour)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestSystemClockIsUTC(t *testing.T) {
	if loc := (SystemClock{}).Now().Location(); loc != time.UTC {
		t.Fatalf("location = %v, want UTC", loc)
	}
}
