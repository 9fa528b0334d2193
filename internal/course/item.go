// Package course holds the course content model and the classifier that turns
// raw course-material graphs into typed, dispatchable items.
package course

type ItemType string

const (
	TypeVideo       ItemType = "video"
	TypeReading     ItemType = "reading"
	TypeQuiz        ItemType = "quiz"
	TypeProgramming ItemType = "programming"
	TypePeerReview  ItemType = "peer-review"
	TypeUnknown     ItemType = "unknown"
)

// Dispatchable reports whether items of this type are handed to a completion handler.
func (t ItemType) Dispatchable() bool {
	switch t {
	case TypeVideo, TypeReading, TypeProgramming:
		return true
	default:
		return false
	}
}

type Item struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Type ItemType `json:"type"`
	// TimeCommitment is in milliseconds; video handlers report it as the watched-to marker.
	TimeCommitment int64  `json:"time_commitment"`
	Slug           string `json:"slug,omitempty"`
}

type Counts struct {
	Video       int `json:"video"`
	Reading     int `json:"reading"`
	Quiz        int `json:"quiz"`
	Programming int `json:"programming"`
	PeerReview  int `json:"peer_review"`
	Unknown     int `json:"unknown"`
	Total       int `json:"total"`
}

func (c *Counts) add(t ItemType) {
	switch t {
	case TypeVideo:
		c.Video++
	case TypeReading:
		c.Reading++
	case TypeQuiz:
		c.Quiz++
	case TypeProgramming:
		c.Programming++
	case TypePeerReview:
		c.PeerReview++
	default:
		c.Unknown++
	}
	c.Total++
}

type Module struct {
	Number int    `json:"number"`
	ID     string `json:"id"`
	Name   string `json:"name"`
	Items  []Item `json:"items"`
	Counts Counts `json:"counts"`
}

// Dispatchable returns the module's items that a completion handler can process,
// in encounter order.
func (m *Module) Dispatchable() []Item {
	out := make([]Item, 0, len(m.Items))
	for _, it := range m.Items {
		if it.Type.Dispatchable() {
			out = append(out, it)
		}
	}

	return out
}
