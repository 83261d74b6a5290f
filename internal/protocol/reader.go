package protocol

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// MaxLearnTax is the largest tax value the planner tracks; larger values are clamped.
const MaxLearnTax = 0xF

// MaxOffers bounds the action count line.
const MaxOffers = 256

// Reader parses the line-oriented turn input.
type Reader struct {
	sc   *bufio.Scanner
	line int
}

func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 4*1024), 1024*1024)
	return &Reader{sc: sc}
}

// ReadTurn reads one full turn. A closed or truncated stream returns ErrEndOfSession.
func (r *Reader) ReadTurn() (TurnSnapshot, error) {
	var snap TurnSnapshot

	f, err := r.fields(1)
	if err != nil {
		return snap, err
	}
	count, err := r.atoi(f[0])
	if err != nil {
		return snap, err
	}
	if count < 0 || count > MaxOffers {
		return snap, fmt.Errorf("%w: line %d: action count %d out of range", ErrMalformed, r.line, count)
	}

	snap.Offers = make([]Offer, 0, count)
	for i := 0; i < count; i++ {
		o, err := r.offer()
		if err != nil {
			return snap, err
		}
		snap.Offers = append(snap.Offers, o)
	}
	if snap.Self, err = r.inventory(); err != nil {
		return snap, err
	}
	if snap.Opponent, err = r.inventory(); err != nil {
		return snap, err
	}
	return snap, nil
}

func (r *Reader) offer() (Offer, error) {
	var o Offer
	f, err := r.fields(11)
	if err != nil {
		return o, err
	}
	nums := make([]int, 0, 10)
	for i, s := range f {
		if i == 1 {
			continue
		}
		n, err := r.atoi(s)
		if err != nil {
			return o, err
		}
		nums = append(nums, n)
	}
	o.ID = nums[0]
	o.Kind = f[1]
	for t := 0; t < 4; t++ {
		if o.Delta[t], err = r.tier(nums[1+t]); err != nil {
			return o, err
		}
	}
	o.Price = nums[5]
	o.TomeIndex = nums[6]
	o.Tax = nums[7]
	o.Castable = nums[8] > 0
	o.Repeatable = nums[9] > 0

	switch o.Kind {
	case KindCast, KindOpponentCast:
	case KindLearn:
		if o.Tax > MaxLearnTax {
			o.Tax = MaxLearnTax
		}
	case KindBrew:
		o.Castable = true
	default:
		return o, fmt.Errorf("%w: line %d: unknown kind %q", ErrMalformed, r.line, o.Kind)
	}
	return o, nil
}

func (r *Reader) inventory() (Inventory, error) {
	var inv Inventory
	f, err := r.fields(5)
	if err != nil {
		return inv, err
	}
	for t := 0; t < 4; t++ {
		n, err := r.atoi(f[t])
		if err != nil {
			return inv, err
		}
		if inv.Tiers[t], err = r.tier(n); err != nil {
			return inv, err
		}
	}
	if inv.Score, err = r.atoi(f[4]); err != nil {
		return inv, err
	}
	return inv, nil
}

func (r *Reader) fields(n int) ([]string, error) {
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEndOfSession, err)
		}
		return nil, ErrEndOfSession
	}
	r.line++
	f := strings.Fields(r.sc.Text())
	if len(f) < n {
		return nil, fmt.Errorf("%w: line %d: want %d fields, got %d", ErrMalformed, r.line, n, len(f))
	}
	return f, nil
}

func (r *Reader) tier(n int) (int8, error) {
	if n < math.MinInt8 || n > math.MaxInt8 {
		return 0, fmt.Errorf("%w: line %d: tier value %d out of range", ErrMalformed, r.line, n)
	}
	return int8(n), nil
}

func (r *Reader) atoi(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: line %d: %v", ErrMalformed, r.line, err)
	}
	return n, nil
}
