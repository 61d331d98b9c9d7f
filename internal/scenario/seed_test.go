package scenario

import "testing"

func TestDeriveSeed_ZeroBase(t *testing.T) {
	for _, index := range []int{0, 1, 29} {
		if got := DeriveSeed(0, index); got != 0 {
			t.Errorf("DeriveSeed(0, %d) = %d, want 0", index, got)
		}
	}
}

func TestDeriveSeed_Deterministic(t *testing.T) {
	for index := 0; index < 10; index++ {
		first := DeriveSeed(1234, index)
		second := DeriveSeed(1234, index)
		if first != second {
			t.Errorf("index %d: %d != %d", index, first, second)
		}
	}
}

func TestDeriveSeed_WithinEngineRange(t *testing.T) {
	for index := 0; index < 100; index++ {
		seed := DeriveSeed(987654321, index)
		if seed < engineSeedMin || seed > engineSeedMax {
			t.Errorf("index %d: seed %d outside [%d, %d]", index, seed, int64(engineSeedMin), int64(engineSeedMax))
		}
		if seed == 0 {
			t.Errorf("index %d: derived seed is zero", index)
		}
	}
}

func TestDeriveSeed_VariesByIndex(t *testing.T) {
	seen := make(map[int64]int)
	for index := 0; index < 30; index++ {
		seed := DeriveSeed(42, index)
		if prev, dup := seen[seed]; dup {
			t.Errorf("indices %d and %d derived the same seed %d", prev, index, seed)
		}
		seen[seed] = index
	}
}

func TestDeriveSeed_VariesByBase(t *testing.T) {
	if DeriveSeed(1, 0) == DeriveSeed(2, 0) {
		t.Error("different bases derived the same seed for sample 0")
	}
}
