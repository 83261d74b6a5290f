package planner

// Tier is an ingredient inventory or a delta applied to one.
type Tier [4]int8

func (t Tier) Sum() int {
	return int(t[0]) + int(t[1]) + int(t[2]) + int(t[3])
}

// Value counts the ingredients above tier 0; they are what leftover
// inventory is worth at the end of a game.
func (t Tier) Value() int {
	return int(t[1]) + int(t[2]) + int(t[3])
}

func (t Tier) Add(d Tier) Tier {
	return Tier{t[0] + d[0], t[1] + d[1], t[2] + d[2], t[3] + d[3]}
}

// Accepts reports whether applying d keeps every tier non-negative and the
// total within capacity.
func (t Tier) Accepts(d Tier, capacity int) bool {
	return t.AcceptsTimes(d, 1, capacity)
}

// AcceptsTimes is Accepts for d applied k times in one step.
func (t Tier) AcceptsTimes(d Tier, k, capacity int) bool {
	sum := 0
	for i := range t {
		v := int(t[i]) + k*int(d[i])
		if v < 0 {
			return false
		}
		sum += v
	}
	return sum <= capacity
}

func (t Tier) scaled(k int) Tier {
	return Tier{t[0] * int8(k), t[1] * int8(k), t[2] * int8(k), t[3] * int8(k)}
}
