package protocol

// Version of the turn log record layout.
const Version = "1"

// Offer kinds on the input stream.
const (
	KindCast         = "CAST"
	KindOpponentCast = "OPPONENT_CAST"
	KindLearn        = "LEARN"
	KindBrew         = "BREW"
)

// Output verbs.
const (
	OpCast  = "CAST"
	OpLearn = "LEARN"
	OpBrew  = "BREW"
	OpRest  = "REST"
	OpWait  = "WAIT"
)

// Offer is one action line of a turn.
type Offer struct {
	ID         int     `json:"id"`
	Kind       string  `json:"kind"`
	Delta      [4]int8 `json:"delta"`
	Price      int     `json:"price"`
	TomeIndex  int     `json:"tome_index"`
	Tax        int     `json:"tax"`
	Castable   bool    `json:"castable"`
	Repeatable bool    `json:"repeatable"`
}

type Inventory struct {
	Tiers [4]int8 `json:"tiers"`
	Score int     `json:"score"`
}

// TurnSnapshot is everything the game tells us at the start of a turn.
// It is treated as immutable once read.
type TurnSnapshot struct {
	Offers   []Offer   `json:"offers"`
	Self     Inventory `json:"self"`
	Opponent Inventory `json:"opponent"`
}

// OffersOf returns the offers of one kind in input order.
func (s TurnSnapshot) OffersOf(kind string) []Offer {
	var out []Offer
	for _, o := range s.Offers {
		if o.Kind == kind {
			out = append(out, o)
		}
	}
	return out
}
