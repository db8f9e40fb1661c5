package outbox

import "unicode/utf8"

const (
	// SegmentLength is the number of characters carried by one SMS.
	SegmentLength = 160
	// CostPerSegment is the price in RWF of one segment to one recipient.
	CostPerSegment = 15
)

// Estimate is the size and price of a message before it is queued.
type Estimate struct {
	Characters int
	Segments   int
	Remaining  int // characters left in the current segment
	Recipients int
	Cost       int
}

// EstimateMessage computes the segment count and cost of sending text to
// the given number of recipients. An empty message still counts as one segment.
func EstimateMessage(text string, recipients int) Estimate {
	n := utf8.RuneCountInString(text)
	segments := (n + SegmentLength - 1) / SegmentLength
	if segments < 1 {
		segments = 1
	}
	return Estimate{
		Characters: n,
		Segments:   segments,
		Remaining:  segments*SegmentLength - n,
		Recipients: recipients,
		Cost:       recipients * segments * CostPerSegment,
	}
}
