package planner

// SlotStatus packs the per-turn state of one catalog slot. The same slot index
// addresses a transform, a learnable and a brew; each uses its own bits.
//
//	bit 0      transform available (owned)
//	bit 1      transform castable (not on cooldown)
//	bit 2      brew available
//	bit 6      learn available
//	bits 8-11  learn tax
//	bits 12-15 learn tome index
type SlotStatus uint16

const (
	castAvailableBit  SlotStatus = 1 << 0
	castableBit       SlotStatus = 1 << 1
	brewAvailableBit  SlotStatus = 1 << 2
	learnAvailableBit SlotStatus = 1 << 6

	taxShift  = 8
	tomeShift = 12
	nibble    = 0xF

	// MaxNibble is the largest tax or tome index a slot can hold.
	MaxNibble = nibble
)

func (s SlotStatus) has(bit SlotStatus) bool { return s&bit != 0 }

func (s *SlotStatus) set(bit SlotStatus, on bool) {
	if on {
		*s |= bit
	} else {
		*s &^= bit
	}
}

func (s SlotStatus) CastAvailable() bool { return s.has(castAvailableBit) }

// Castable means owned and off cooldown.
func (s SlotStatus) Castable() bool {
	return s&(castAvailableBit|castableBit) == castAvailableBit|castableBit
}

func (s *SlotStatus) SetCast(castable, available bool) {
	s.set(castableBit, castable)
	s.set(castAvailableBit, available)
}

func (s *SlotStatus) SetCastable(castable bool) { s.set(castableBit, castable) }

func (s SlotStatus) BrewAvailable() bool        { return s.has(brewAvailableBit) }
func (s *SlotStatus) SetBrewAvailable(on bool) { s.set(brewAvailableBit, on) }

func (s SlotStatus) LearnAvailable() bool        { return s.has(learnAvailableBit) }
func (s *SlotStatus) SetLearnAvailable(on bool) { s.set(learnAvailableBit, on) }

func (s SlotStatus) Tax() int       { return int(s>>taxShift) & nibble }
func (s SlotStatus) TomeIndex() int { return int(s>>tomeShift) & nibble }

// SetTax clamps to the nibble range.
func (s *SlotStatus) SetTax(tax int) {
	*s = *s&^(nibble<<taxShift) | SlotStatus(clampNibble(tax))<<taxShift
}

func (s *SlotStatus) SetTomeIndex(i int) {
	*s = *s&^(nibble<<tomeShift) | SlotStatus(clampNibble(i))<<tomeShift
}

// SetLearn offers the slot in the tome at index with the given tax.
func (s *SlotStatus) SetLearn(index, tax int) {
	s.SetTomeIndex(index)
	s.SetTax(tax)
	s.SetLearnAvailable(true)
}

func clampNibble(v int) int {
	if v < 0 {
		return 0
	}
	if v > nibble {
		return nibble
	}
	return v
}
