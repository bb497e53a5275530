package engine

import (
	"crypto/rand"
	"math/big"
)

// rollDie draws uniformly from 1..6 using crypto/rand. Dice fairness is a
// product requirement, so the strong source is non-negotiable even though the
// draws are tiny.
func rollDie() int {
	n, err := rand.Int(rand.Reader, big.NewInt(6))
	if err != nil {
		// crypto/rand failing means the platform entropy source is broken;
		// there is no acceptable fallback for staked play.
		panic("engine: entropy source unavailable: " + err.Error())
	}
	return int(n.Int64()) + 1
}

// RollDice draws two dice; equal values expand to four usable entries.
func RollDice() []Die {
	a, b := rollDie(), rollDie()
	if a == b {
		return []Die{{Value: a}, {Value: a}, {Value: a}, {Value: a}}
	}
	return []Die{{Value: a}, {Value: b}}
}

// RandomColor picks a side uniformly; used for opening color assignment.
func RandomColor() Color {
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	if err != nil {
		panic("engine: entropy source unavailable: " + err.Error())
	}
	if n.Int64() == 0 {
		return White
	}
	return Black
}
