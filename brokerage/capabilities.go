package brokerage

import (
	"strings"
	"sync"
	"time"

	fsm "github.com/goliatone/go-fsm"
	"github.com/google/uuid"
)

// Auditable records are identified in the audit trail by kind and id.
type Auditable interface {
	fsm.Kinded
	RecordID() string
}

// Commentable records carry an append-only comment thread.
type Commentable interface {
	AddComment(author, body string) Comment
	Comments() []Comment
}

// Documentable records carry attached documents.
type Documentable interface {
	AttachDocument(doc Document) Document
	Documents() []Document
	DocumentsOfType(kind string) []Document
}

// Comment is a note left on a record.
type Comment struct {
	ID        string
	Author    string
	Body      string
	CreatedAt time.Time
}

// Document is a file attached to a record, e.g. a signed mandate.
type Document struct {
	ID        string
	Type      string
	Name      string
	URL       string
	CreatedAt time.Time
}

// Thread implements Commentable by composition.
type Thread struct {
	mu       sync.RWMutex
	comments []Comment
}

func (t *Thread) AddComment(author, body string) Comment {
	c := Comment{
		ID:        uuid.NewString(),
		Author:    strings.TrimSpace(author),
		Body:      strings.TrimSpace(body),
		CreatedAt: time.Now().UTC(),
	}
	t.mu.Lock()
	t.comments = append(t.comments, c)
	t.mu.Unlock()
	return c
}

func (t *Thread) Comments() []Comment {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Comment(nil), t.comments...)
}

// Attachments implements Documentable by composition.
type Attachments struct {
	mu   sync.RWMutex
	docs []Document
}

func (a *Attachments) AttachDocument(doc Document) Document {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.Type = strings.ToLower(strings.TrimSpace(doc.Type))
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	a.mu.Lock()
	a.docs = append(a.docs, doc)
	a.mu.Unlock()
	return doc
}

func (a *Attachments) Documents() []Document {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Document(nil), a.docs...)
}

func (a *Attachments) DocumentsOfType(kind string) []Document {
	kind = strings.ToLower(strings.TrimSpace(kind))
	var out []Document
	for _, d := range a.Documents() {
		if d.Type == kind {
			out = append(out, d)
		}
	}
	return out
}
