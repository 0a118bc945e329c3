// Package emoji maps face expression probabilities onto emoji categories.
package emoji

const (
	// SmilingThreshold must be strictly exceeded for a face to count as smiling.
	SmilingThreshold = 0.15
	// EyeOpenThreshold is the open probability below which an eye counts as closed.
	EyeOpenThreshold = 0.5
)

// Expression is the boolean reading of a face's probabilities.
type Expression struct {
	Smiling     bool
	LeftClosed  bool
	RightClosed bool
}

// Read converts raw probabilities into an Expression.
func Read(smilingProb, leftEyeOpenProb, rightEyeOpenProb float64) Expression {
	return Expression{
		Smiling:     smilingProb > SmilingThreshold,
		LeftClosed:  leftEyeOpenProb < EyeOpenThreshold,
		RightClosed: rightEyeOpenProb < EyeOpenThreshold,
	}
}

// Category picks the sticker for the expression.
func (e Expression) Category() Category {
	switch {
	case e.LeftClosed && !e.RightClosed:
		if e.Smiling {
			return LeftWink
		}
		return LeftWinkFrown
	case e.RightClosed && !e.LeftClosed:
		if e.Smiling {
			return RightWink
		}
		return RightWinkFrown
	case e.LeftClosed:
		if e.Smiling {
			return ClosedEyeSmile
		}
		return ClosedEyeFrown
	}
	if e.Smiling {
		return Smile
	}
	return Frown
}

// Expression returns the canonical expression that classifies as c.
func (c Category) Expression() Expression {
	e := Expression{Smiling: c.Smiling()}
	switch c {
	case LeftWink, LeftWinkFrown:
		e.LeftClosed = true
	case RightWink, RightWinkFrown:
		e.RightClosed = true
	case ClosedEyeSmile, ClosedEyeFrown:
		e.LeftClosed, e.RightClosed = true, true
	}
	return e
}

// Classify selects exactly one category for a face's probabilities.
func Classify(smilingProb, leftEyeOpenProb, rightEyeOpenProb float64) Category {
	return Read(smilingProb, leftEyeOpenProb, rightEyeOpenProb).Category()
}
