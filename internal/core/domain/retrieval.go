package domain

import (
	"sort"
	"strconv"
	"time"
)

// DistanceMetric is fixed per collection at creation time
type DistanceMetric string

const (
	MetricCosine DistanceMetric = "cosine"
)

// RetrievedDocument is one hit from a nearest-neighbour query
type RetrievedDocument struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	// SourceRef names the document the hit was chunked from
	SourceRef string            `json:"source_ref"`
	Metadata  map[string]string `json:"metadata"`
	// Score is the similarity to the query, higher is closer
	Score float64 `json:"score"`
}

// Source returns the document the hit was chunked from, falling back to
// metadata for hits built without SourceRef.
func (d RetrievedDocument) Source() string {
	if d.SourceRef != "" {
		return d.SourceRef
	}
	return d.Metadata[MetaSourceRef]
}

// SequenceIndex returns the hit's position within its source document, or -1
func (d RetrievedDocument) SequenceIndex() int {
	v, ok := d.Metadata[MetaSequenceIndex]
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

// RetrievalResult is ordered by descending similarity and holds at most k hits
type RetrievalResult []RetrievedDocument

// SortBySimilarity orders hits best first with ties broken by ascending ID,
// which makes the order total. Callers that truncate to k must sort the full
// candidate set first.
func (r RetrievalResult) SortBySimilarity() {
	sort.SliceStable(r, func(i, j int) bool {
		if r[i].Score != r[j].Score {
			return r[i].Score > r[j].Score
		}
		return r[i].ID < r[j].ID
	})
}

// ChatRole identifies who authored a chat turn
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// ChatTurn is one entry in a client-side conversation log.
// The core never persists these.
type ChatTurn struct {
	Role      ChatRole        `json:"role"`
	Content   string          `json:"content"`
	Documents RetrievalResult `json:"documents,omitempty"`
}

// AnswerOptions tunes a single chat request
type AnswerOptions struct {
	// TopK overrides the configured number of passages (0 uses the default)
	TopK int `json:"top_k,omitempty"`
}

// Answer is the result of a retrieval-augmented chat request
type Answer struct {
	Query     string          `json:"query"`
	Text      string          `json:"message"`
	Documents RetrievalResult `json:"docs"`
	Took      time.Duration   `json:"took"`
}

// Turns renders the answer as the user/assistant pair a client appends to its log
func (a *Answer) Turns() []ChatTurn {
	return []ChatTurn{
		{Role: ChatRoleUser, Content: a.Query},
		{Role: ChatRoleAssistant, Content: a.Text, Documents: a.Documents},
	}
}
