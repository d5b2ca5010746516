package engine

import "time"

// EventKind tags which variant of Event is populated. The engine picks
// a plain tagged union over one interface-per-event-type because every
// adapter's translator (see irc/events.go) switches on exactly this
// tag and a type switch over nine concrete structs would be no clearer.
type EventKind uint8

const (
	EventMessage EventKind = iota
	EventJoin
	EventPart
	EventQuit
	EventTopicChange
	EventTopic
	EventNames
	EventNickChange
	EventServerNotice
)

// Member is the (nickname, avatar) pair used by Names and Join.
type Member struct {
	Nick   string
	Avatar string
}

// Event is the protocol-agnostic record the engine emits to describe a
// state change. Only the fields relevant to Kind are populated; the
// rest are zero. A tagged struct was chosen over one struct type per
// kind plus an interface because every consumer needs to serialize to
// either a line-protocol frame or a JSON object, and a flat struct
// serializes to JSON for free while still type-switching cleanly on
// Kind for the line adapter's translator.
type Event struct {
	Kind EventKind

	// Message
	MessageID   string
	Tenant      string
	From        string
	Target      string
	Content     string
	Timestamp   time.Time
	Avatar      string
	ReplyTo     string
	Attachments []string

	// Join / Part / Quit / TopicChange / Topic / Names / NickChange
	Nick    string
	Channel string
	Reason  string
	Topic   string
	SetBy   string
	Members []Member
	OldNick string
	NewNick string

	// ServerNotice
	Notice string
}
