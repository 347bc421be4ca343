package table

import "fmt"

// Card values start at 2 because 0 and 1 survive modular exponentiation
// unchanged under every key, which would make those cards readable
// through any number of encryption layers.
const minCardValue = 2

var suits = [...]string{"♣", "♦", "♥", "♠"}
var ranks = [...]string{"2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K", "A"}

// StandardDeck returns the 52 card values of a standard deck, 2 through
// 53, ordered by suit then rank.
func StandardDeck() []int64 {
	deck := make([]int64, len(suits)*len(ranks))
	for i := range deck {
		deck[i] = int64(minCardValue + i)
	}
	return deck
}

// CardName renders a standard-deck card value like "A♠" or "10♦". Values
// outside the standard deck render as their number.
func CardName(v int64) string {
	i := v - minCardValue
	if i < 0 || i >= int64(len(suits)*len(ranks)) {
		return fmt.Sprintf("#%d", v)
	}
	return ranks[i%13] + suits[i/13]
}
