package answer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragmcp/internal/domain"
)

const (
	// NoContextAnswer is returned when retrieval finds nothing above the threshold.
	NoContextAnswer = "I could not find relevant information in the indexed documents."

	systemPrompt = "You are a helpful AI assistant answering questions based on the context provided. " +
		"Answer the user's question using ONLY the information provided in the context. " +
		"If the information is not in the context, say \"I don't have enough information to answer.\""
)

// Answer is a generated reply and the passages it was grounded on.
type Answer struct {
	Text    string                `json:"answer"`
	Sources []domain.SearchResult `json:"sources"`
}

// Service answers questions from retrieved context.
type Service struct {
	retriever Retriever
	completer Completer
	threshold float64
	logger    *zap.Logger
}

// New creates an answer service. threshold is passed to every retrieval.
func New(r Retriever, c Completer, threshold float64) *Service {
	return &Service{retriever: r, completer: c, threshold: threshold, logger: zap.NewNop()}
}

// WithLogger sets the logger.
func (s *Service) WithLogger(l *zap.Logger) *Service {
	if l != nil {
		s.logger = l
	}
	return s
}

// Answer retrieves up to limit passages and asks the model to answer from them.
// The model is not called when nothing was retrieved.
func (s *Service) Answer(ctx context.Context, question, collection string, limit int) (Answer, error) {
	passages, err := s.retriever.Retrieve(ctx, question, collection, limit, s.threshold)
	if err != nil {
		return Answer{}, fmt.Errorf("retrieve context: %w", err)
	}
	if len(passages) == 0 {
		s.logger.Info("No context for question", zap.String("collection", collection))
		return Answer{Text: NoContextAnswer, Sources: []domain.SearchResult{}}, nil
	}

	out, err := s.completer.Complete(ctx, systemPrompt, BuildPrompt(question, passages))
	if err != nil {
		return Answer{}, fmt.Errorf("complete answer: %w", err)
	}

	s.logger.Debug("Answer generated",
		zap.String("collection", collection),
		zap.Int("passages", len(passages)),
		zap.Int("answer_len", len(out)),
	)
	return Answer{Text: strings.TrimSpace(out), Sources: passages}, nil
}

// BuildPrompt renders the user prompt with numbered context passages.
func BuildPrompt(question string, passages []domain.SearchResult) string {
	var b strings.Builder
	b.WriteString("Use the following CONTEXT to answer the QUESTION. ")
	b.WriteString("Cite passages by their number when you rely on them.\n\n")
	b.WriteString("CONTEXT:\n---\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "%d. [%s] %s\n\n", i+1, p.SourcePath, strings.TrimSpace(p.Text))
	}
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "QUESTION: %s\n", strings.TrimSpace(question))
	b.WriteString("ANSWER:")
	return b.String()
}
