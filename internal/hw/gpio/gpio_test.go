package gpio

import "testing"

func TestMockDriver_PullUpIdlesHigh(t *testing.T) {
	m := NewMockDriver()
	if err := m.SetupPin(17, InputPullUp); err != nil {
		t.Fatal(err)
	}
	lvl, err := m.ReadPin(17)
	if err != nil {
		t.Fatal(err)
	}
	if lvl != High {
		t.Error("pull-up input should idle HIGH")
	}

	m.SetLevel(17, Low)
	if lvl, _ := m.ReadPin(17); lvl != Low {
		t.Error("SetLevel(Low) not visible to ReadPin")
	}

	// Re-running setup must not clobber a simulated level.
	_ = m.SetupPin(17, InputPullUp)
	if lvl, _ := m.ReadPin(17); lvl != Low {
		t.Error("SetupPin reset an existing level")
	}
}

func TestMockDriver_WriteReadBack(t *testing.T) {
	m := NewMockDriver()
	_ = m.SetupPin(27, Output)
	_ = m.WritePin(27, High)
	if lvl, _ := m.ReadPin(27); lvl != High {
		t.Error("written level not read back")
	}
	if mode, ok := m.Mode(27); !ok || mode != Output {
		t.Errorf("Mode = %v,%v want Output", mode, ok)
	}
}

func TestNewDriver_Mock(t *testing.T) {
	d, err := NewDriver(true)
	if err != nil {
		t.Fatalf("NewDriver(true): %v", err)
	}
	if _, ok := d.(*MockDriver); !ok {
		t.Errorf("NewDriver(true) = %T, want *MockDriver", d)
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
