// Package turn decides when transcript updates become speech events.
//
// A Policy consumes parsed backend updates and periodic ticks and returns the
// events they produce, in order:
//
//   - new finalized lines from the backend always win: they are emitted as a
//     Final and close the turn;
//   - a changed pending buffer is emitted as an Interim, opening a turn first
//     if needed;
//   - an interim left unchanged for StableTimeout is finalized by OnTick;
//   - Flush finalizes whatever interim is left without waiting.
//
// A Policy is not safe for concurrent use; the session serializes all calls
// under its own mutex.
package turn

import (
	"strings"
	"time"
	"unicode"

	"speech-bridge-service/internal/speech"
	"speech-bridge-service/internal/transcript"
)

const (
	defaultStableTimeout = 300 * time.Millisecond
	defaultConfirmMemory = 8
	defaultConfirmWindow = 10 * time.Second
)

// Config tunes the finalization heuristics.
type Config struct {
	// StableTimeout is how long an interim must stay unchanged before it is
	// finalized without backend confirmation.
	StableTimeout time.Duration
	// Language is used when the backend does not report one.
	Language string
	// ConfirmMemory bounds how many locally finalized texts are remembered
	// while waiting for the backend to commit them.
	ConfirmMemory int
	// ConfirmWindow is how long a locally finalized text waits for its
	// backend commit before it is forgotten.
	ConfirmWindow time.Duration
}

// unconfirmedText is a normalized timeout or drain final awaiting its
// backend commit.
type unconfirmedText struct {
	text string
	at   time.Time
}

type interimState struct {
	text        string
	language    string
	lastUpdated time.Time
}

// Policy is the finalization state machine of one session.
type Policy struct {
	sessionID string
	cfg       Config
	ids       *Generator

	speaking bool
	turnID   string

	interim     interimState
	lastInterim string
	finalized   map[string]struct{}

	// unconfirmed holds normalized texts finalized by timeout or drain that
	// the backend has not committed yet.
	unconfirmed []unconfirmedText
}

// NewPolicy creates a policy for the given session.
func NewPolicy(sessionID string, cfg Config) *Policy {
	if cfg.StableTimeout <= 0 {
		cfg.StableTimeout = defaultStableTimeout
	}
	if cfg.ConfirmMemory <= 0 {
		cfg.ConfirmMemory = defaultConfirmMemory
	}
	if cfg.ConfirmWindow <= 0 {
		cfg.ConfirmWindow = defaultConfirmWindow
	}
	return &Policy{
		sessionID: sessionID,
		cfg:       cfg,
		ids:       NewGenerator(),
		finalized: make(map[string]struct{}),
	}
}

// OnUpdate applies one parsed backend update.
func (p *Policy) OnUpdate(u *transcript.Update, now time.Time) []speech.Event {
	if u == nil {
		return nil
	}
	lang := p.language(u.Language)

	if u.HasFinal() {
		lines := p.dropConfirmed(u.NewFinalLines, now)
		if len(lines) == 0 {
			return nil
		}
		return p.finalize(strings.Join(lines, " "), lang, speech.SourceBackend, now)
	}

	if u.PendingText == "" {
		p.lastInterim = ""
		return nil
	}
	if u.PendingText == p.lastInterim {
		return nil
	}

	var out []speech.Event
	if !p.speaking {
		p.forgetUnrelated(normalize(u.PendingText))
		out = append(out, p.start(now))
	}
	p.interim = interimState{text: u.PendingText, language: lang, lastUpdated: now}
	p.lastInterim = u.PendingText
	out = append(out, p.event(speech.Interim, now, func(e *speech.Event) {
		e.Text = u.PendingText
		e.Language = lang
	}))
	return out
}

// OnTick finalizes the interim once it has been stable for StableTimeout.
func (p *Policy) OnTick(now time.Time) []speech.Event {
	if p.interim.text == "" {
		return nil
	}
	if _, done := p.finalized[p.interim.text]; done {
		p.interim = interimState{}
		return nil
	}
	if now.Sub(p.interim.lastUpdated) < p.cfg.StableTimeout {
		return nil
	}
	return p.finalize(p.interim.text, p.interim.language, speech.SourceStableTimeout, now)
}

// Flush finalizes any remaining interim immediately and closes an open turn.
func (p *Policy) Flush(now time.Time) []speech.Event {
	if p.interim.text != "" {
		if _, done := p.finalized[p.interim.text]; !done {
			return p.finalize(p.interim.text, p.interim.language, speech.SourceDrain, now)
		}
		p.interim = interimState{}
	}
	if p.speaking {
		return []speech.Event{p.end(now)}
	}
	return nil
}

// Speaking reports whether a turn is open.
func (p *Policy) Speaking() bool {
	return p.speaking
}

// InterimText returns the current unfinalized text.
func (p *Policy) InterimText() string {
	return p.interim.text
}

// TurnID returns the ID of the open turn, or "".
func (p *Policy) TurnID() string {
	return p.turnID
}

// Turns returns the number of turns opened so far.
func (p *Policy) Turns() uint64 {
	return p.ids.Count()
}

func (p *Policy) finalize(text, lang string, source speech.FinalSource, now time.Time) []speech.Event {
	if _, done := p.finalized[text]; done {
		return nil
	}

	var out []speech.Event
	if !p.speaking {
		out = append(out, p.start(now))
	}
	out = append(out, p.event(speech.Final, now, func(e *speech.Event) {
		e.Text = text
		e.Language = lang
		e.Source = source
	}))
	p.finalized[text] = struct{}{}
	p.interim = interimState{}
	if source != speech.SourceBackend {
		p.remember(text, now)
	}
	out = append(out, p.end(now))
	return out
}

func (p *Policy) start(now time.Time) speech.Event {
	p.speaking = true
	p.turnID = p.ids.Next(p.sessionID)
	return p.event(speech.StartOfSpeech, now, nil)
}

func (p *Policy) end(now time.Time) speech.Event {
	ev := p.event(speech.EndOfSpeech, now, nil)
	p.speaking = false
	p.turnID = ""
	clear(p.finalized)
	return ev
}

func (p *Policy) event(t speech.EventType, now time.Time, fill func(*speech.Event)) speech.Event {
	ev := speech.Event{Type: t, TurnID: p.turnID, Time: now}
	if fill != nil {
		fill(&ev)
	}
	return ev
}

func (p *Policy) language(reported string) string {
	if reported != "" {
		return reported
	}
	return p.cfg.Language
}

func (p *Policy) remember(text string, now time.Time) {
	n := normalize(text)
	if n == "" {
		return
	}
	p.unconfirmed = append(p.unconfirmed, unconfirmedText{text: n, at: now})
	if over := len(p.unconfirmed) - p.cfg.ConfirmMemory; over > 0 {
		p.unconfirmed = p.unconfirmed[over:]
	}
}

// dropConfirmed removes backend lines that confirm text already finalized
// locally. A line may confirm a whole remembered text or its leading words.
func (p *Policy) dropConfirmed(lines []string, now time.Time) []string {
	p.expire(now)
	if len(p.unconfirmed) == 0 {
		return lines
	}
	out := lines[:0:0]
	for _, line := range lines {
		if !p.confirm(normalize(line)) {
			out = append(out, line)
		}
	}
	return out
}

func (p *Policy) confirm(n string) bool {
	if n == "" {
		return false
	}
	for i, u := range p.unconfirmed {
		switch {
		case u.text == n:
			p.unconfirmed = append(p.unconfirmed[:i], p.unconfirmed[i+1:]...)
			return true
		case strings.HasPrefix(u.text, n+" "):
			p.unconfirmed[i].text = u.text[len(n)+1:]
			return true
		}
	}
	return false
}

// expire forgets texts the backend did not commit within ConfirmWindow.
func (p *Policy) expire(now time.Time) {
	keep := p.unconfirmed[:0]
	for _, u := range p.unconfirmed {
		if now.Sub(u.at) < p.cfg.ConfirmWindow {
			keep = append(keep, u)
		}
	}
	p.unconfirmed = keep
}

// forgetUnrelated runs when an interim opens a new turn. Remembered texts
// that the new interim does not repeat belong to speech the backend has
// moved past, so a later commit of the same words is a new utterance.
func (p *Policy) forgetUnrelated(pending string) {
	keep := p.unconfirmed[:0]
	for _, u := range p.unconfirmed {
		if strings.HasPrefix(u.text, pending) || strings.HasPrefix(pending, u.text) {
			keep = append(keep, u)
		}
	}
	p.unconfirmed = keep
}

// normalize lowercases, strips punctuation and collapses whitespace.
func normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
