package models

// Participant identifies one connected user as exposed in rosters.
type Participant struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// Identity is the resolved identity of an authenticated caller.
type Identity struct {
	UserID      string
	DisplayName string
}

// ClientMessage is the envelope for every client-to-server frame.
// Fields beyond Type are type-specific and optional.
type ClientMessage struct {
	Type         string `json:"type"`
	Position     any    `json:"position,omitempty"`
	SectionIndex int    `json:"sectionIndex"`
	IsTyping     *bool  `json:"isTyping,omitempty"`
	Field        string `json:"field,omitempty"`
	Value        any    `json:"value,omitempty"`
	Persist      bool   `json:"persist,omitempty"`
}

/*** Server-to-client envelopes ***/

type PresenceMessage struct {
	Type        string        `json:"type"`
	Action      string        `json:"action"` // "joined" or "left"
	UserID      string        `json:"userId"`
	UserName    string        `json:"userName"`
	Timestamp   string        `json:"timestamp"`
	ActiveUsers []Participant `json:"activeUsers"`
}

type CursorMessage struct {
	Type         string `json:"type"`
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	Position     any    `json:"position"`
	SectionIndex int    `json:"sectionIndex"`
}

type TypingMessage struct {
	Type         string `json:"type"`
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	SectionIndex int    `json:"sectionIndex"`
	IsTyping     bool   `json:"isTyping"`
}

type EditMessage struct {
	Type         string `json:"type"`
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	SectionIndex int    `json:"sectionIndex"`
	Field        string `json:"field"`
	Value        any    `json:"value"`
	Timestamp    string `json:"timestamp"`
}

type SectionFocusMessage struct {
	Type         string `json:"type"`
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	SectionIndex int    `json:"sectionIndex"`
}

type PongMessage struct {
	Type string `json:"type"`
}

type ActiveUsersMessage struct {
	Type  string        `json:"type"`
	Users []Participant `json:"users"`
}

// RosterResponse is the payload of the synchronous roster query, used by the
// frontend on initial page load before the websocket is up.
type RosterResponse struct {
	LessonID    string        `json:"lessonId"`
	ActiveUsers []Participant `json:"activeUsers"`
}

/*** Stored documents ***/

// Lesson is a lesson document. Section records are kept as a JSON array in
// SectionsJSON, matching how the editor submits them.
type Lesson struct {
	ID           string `bson:"id" json:"id"`
	UserID       string `bson:"userId,omitempty" json:"userId,omitempty"`
	Title        string `bson:"title" json:"title"`
	SectionsJSON string `bson:"sectionsJson" json:"sectionsJson"`
	CreatedAt    string `bson:"createdAt,omitempty" json:"createdAt,omitempty"`
	UpdatedAt    string `bson:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

// StoredSession is one row of the session-token store.
type StoredSession struct {
	Token     string `bson:"token"`
	UserID    string `bson:"userId"`
	CreatedAt string `bson:"createdAt,omitempty"`
}

type User struct {
	ID    string `bson:"id" json:"id"`
	Name  string `bson:"name,omitempty" json:"name,omitempty"`
	Email string `bson:"email,omitempty" json:"email,omitempty"`
}
