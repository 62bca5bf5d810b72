package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DocType classifies a knowledge document.
type DocType string

const (
	DocTypeResume     DocType = "resume"
	DocTypeProject    DocType = "project"
	DocTypeBio        DocType = "bio"
	DocTypeSkills     DocType = "skills"
	DocTypeExperience DocType = "experience"
	DocTypeOther      DocType = "other"
)

// DocTypes lists every accepted document type.
var DocTypes = []DocType{DocTypeResume, DocTypeProject, DocTypeBio, DocTypeSkills, DocTypeExperience, DocTypeOther}

// ParseDocType maps a user-supplied string onto the closed DocType set.
// An empty string yields DocTypeOther.
func ParseDocType(s string) (DocType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DocTypeOther, nil
	}
	for _, t := range DocTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown document type %q", s)
}

// KnowledgeDocument is an uploaded first-party document. Only active
// documents participate in retrieval.
type KnowledgeDocument struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Filename    string    `json:"filename"`
	MimeType    string    `json:"mime_type"`
	DocType     DocType   `json:"doc_type"`
	Active      bool      `json:"active"`
	RawContent  string    `json:"-"`
	ChunkCount  int       `json:"chunk_count"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Chunk is an immutable span of a document's extracted text.
type Chunk struct {
	ID          uuid.UUID `json:"id"`
	DocumentID  uuid.UUID `json:"document_id"`
	Content     string    `json:"content"`
	ChunkIndex  int       `json:"chunk_index"`
	StartOffset int       `json:"start_offset"`
	EndOffset   int       `json:"end_offset"`
	TokenCount  int       `json:"token_count"`
}

// DocumentPatch carries optional metadata edits.
type DocumentPatch struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	DocType     *DocType `json:"doc_type,omitempty"`
	Active      *bool    `json:"active,omitempty"`
}

// BlogPost is a published post used to build the site source.
type BlogPost struct {
	Title    string
	Category string
	Tags     []string
	Content  string
}

// Project is a published case study used to build the site source.
type Project struct {
	Title        string
	Category     string
	Description  string
	Challenge    string
	Solution     string
	Results      []string
	Technologies []string
}

// Message roles in an oracle conversation.
const (
	RoleUser   = "user"
	RoleOracle = "oracle"
)

// Conversation is one client session with the oracle.
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	SessionID string    `json:"session_id"`
	UserID    *string   `json:"user_id,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OracleMessage is an append-only conversation entry. Grounding fields are
// only meaningful for RoleOracle messages.
type OracleMessage struct {
	ID             uuid.UUID   `json:"id"`
	ConversationID uuid.UUID   `json:"conversation_id"`
	Role           string      `json:"role"`
	Content        string      `json:"content"`
	SourceChunkIDs []uuid.UUID `json:"source_chunk_ids,omitempty"`
	HasKnowledge   bool        `json:"has_knowledge"`
	ResponseTimeMs int64       `json:"response_time_ms,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Turn is a role-tagged message sent to the completion provider.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion provider roles.
const (
	TurnSystem    = "system"
	TurnUser      = "user"
	TurnAssistant = "assistant"
)
