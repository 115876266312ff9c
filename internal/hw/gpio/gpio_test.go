package gpio

import "testing"

func TestMockDriver_PullUpReadsHigh(t *testing.T) {
	d := NewMockDriver()
	if err := d.SetupPin(17, InputPullUp); err != nil {
		t.Fatal(err)
	}
	lvl, err := d.ReadPin(17)
	if err != nil || lvl != High {
		t.Errorf("ReadPin() = %v, %v; want High", lvl, err)
	}
}

func TestMockDriver_WriteThenRead(t *testing.T) {
	d := NewMockDriver()
	_ = d.SetupPin(27, Output)
	if lvl, _ := d.ReadPin(27); lvl != Low {
		t.Error("unwritten output should read Low")
	}
	_ = d.WritePin(27, High)
	if lvl, _ := d.ReadPin(27); lvl != High {
		t.Error("ReadPin should reflect the last write")
	}
	d.Set(27, Low)
	if lvl, _ := d.ReadPin(27); lvl != Low {
		t.Error("Set should override the level")
	}
}

func TestNewDriver_Mock(t *testing.T) {
	d, err := NewDriver(true)
	if err != nil {
		t.Fatalf("NewDriver(true) error: %v", err)
	}
	if _, ok := d.(*MockDriver); !ok {
		t.Errorf("NewDriver(true) = %T, want *MockDriver", d)
	}
	if err := d.Close(); err != nil {
		t.Error(err)
	}
}
