package transcript

import (
	"strings"

	"github.com/rs/zerolog"
)

// Update is the normalized content of one transcript message.
type Update struct {
	// NewFinalLines are the non-blank finalized lines not seen before.
	NewFinalLines []string
	// PendingText is the backend's current revisable buffer.
	PendingText string
	// Language is empty when the backend did not report one.
	Language string
}

// HasFinal reports whether the update carries newly finalized text.
func (u *Update) HasFinal() bool {
	return u != nil && len(u.NewFinalLines) > 0
}

// FinalText joins the new lines with single spaces.
func (u *Update) FinalText() string {
	return strings.Join(u.NewFinalLines, " ")
}

// Parser tracks how many backend lines were already consumed so the same
// line is never returned twice. Not safe for concurrent use.
type Parser struct {
	processed int
	ended     bool
	log       zerolog.Logger
}

// NewParser creates a parser for a single session.
func NewParser(log zerolog.Logger) *Parser {
	return &Parser{log: log}
}

// Parse converts one backend message into an Update. Control messages yield
// (nil, nil). Malformed payloads yield a speech.ErrProtocol error and leave
// the parser state unchanged.
func (p *Parser) Parse(data []byte) (*Update, error) {
	w, err := decode(data)
	if err != nil {
		return nil, err
	}

	if !w.isTranscript() {
		if w.control() == ControlEnd {
			p.ended = true
		}
		return nil, nil
	}

	var lines []Line
	if w.Lines != nil {
		lines = *w.Lines
	}

	total := w.LineOffset + len(lines)
	if total < p.processed {
		p.log.Warn().
			Int("processedLines", p.processed).
			Int("receivedLines", total).
			Msg("Backend line list shrank, clamping processed line count")
		p.processed = total
	}

	skip := p.processed - w.LineOffset
	if skip < 0 {
		p.log.Warn().
			Int("processedLines", p.processed).
			Int("lineOffset", w.LineOffset).
			Msg("Backend skipped lines")
		skip = 0
	}

	u := &Update{Language: w.Language}
	for _, l := range lines[skip:] {
		if text := strings.TrimSpace(l.Text); text != "" {
			u.NewFinalLines = append(u.NewFinalLines, text)
		}
	}
	p.processed = total

	if u.Language == "" {
		for i := len(lines) - 1; i >= 0; i-- {
			if lines[i].DetectedLanguage != "" {
				u.Language = lines[i].DetectedLanguage
				break
			}
		}
	}

	if w.BufferTranscription != nil {
		u.PendingText = strings.TrimSpace(*w.BufferTranscription)
	}
	return u, nil
}

// ProcessedLines returns the number of backend lines consumed so far.
func (p *Parser) ProcessedLines() int {
	return p.processed
}

// Ended reports whether the backend signalled end of stream.
func (p *Parser) Ended() bool {
	return p.ended
}
