package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// CitationKind distinguishes the two citation sources the model can attach.
type CitationKind string

const (
	// CitationWeb cites a public web page.
	CitationWeb CitationKind = "web"

	// CitationDocument cites a document retrieved from the file search store.
	CitationDocument CitationKind = "document"
)

// Citation is one grounding reference attached to a response chunk.
type Citation struct {
	Kind  CitationKind
	URI   string
	Title string
}

// Chunk is one fragment of a streaming response.
type Chunk struct {
	Text      string
	Citations []Citation
}

// Session is a conversational context bound to one or more file search
// stores at creation time. It is not updatable in place: when the bound
// store changes, discard the session and create a new one.
type Session struct {
	chat *genai.Chat
}

// NewSession creates a chat session with the file search tool pointed at
// the given store names.
func (c *Client) NewSession(ctx context.Context, model, systemInstruction string, storeNames []string) (*Session, error) {
	cfg := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{
			{FileSearch: &genai.FileSearch{FileSearchStoreNames: storeNames}},
		},
	}
	if systemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}

	chat, err := c.genai.Chats.Create(ctx, model, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("creating chat session: %w", err)
	}

	c.logger.Debug("created chat session", "model", model, "stores", storeNames)
	return &Session{chat: chat}, nil
}

// SendStream sends text and invokes fn for each response fragment in
// arrival order. A non-nil error from fn aborts the stream.
func (s *Session) SendStream(ctx context.Context, text string, fn func(Chunk) error) error {
	for resp, err := range s.chat.SendMessageStream(ctx, genai.Part{Text: text}) {
		if err != nil {
			return fmt.Errorf("streaming response: %w", err)
		}
		chunk := Chunk{
			Text:      resp.Text(),
			Citations: citationsFrom(resp),
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
	return nil
}

// citationsFrom extracts grounding citations from a response fragment.
// Most fragments carry none; grounding metadata typically arrives on the
// final chunks of a turn.
func citationsFrom(resp *genai.GenerateContentResponse) []Citation {
	if len(resp.Candidates) == 0 {
		return nil
	}
	gm := resp.Candidates[0].GroundingMetadata
	if gm == nil || len(gm.GroundingChunks) == 0 {
		return nil
	}

	citations := make([]Citation, 0, len(gm.GroundingChunks))
	for _, gc := range gm.GroundingChunks {
		switch {
		case gc.Web != nil:
			citations = append(citations, Citation{
				Kind:  CitationWeb,
				URI:   gc.Web.URI,
				Title: gc.Web.Title,
			})
		case gc.RetrievedContext != nil:
			citations = append(citations, Citation{
				Kind:  CitationDocument,
				URI:   gc.RetrievedContext.URI,
				Title: gc.RetrievedContext.Title,
			})
		}
	}
	if len(citations) == 0 {
		return nil
	}
	return citations
}
