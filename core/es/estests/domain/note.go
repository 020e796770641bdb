package domain

import "github.com/codewandler/esengine/core/es"

type noteKind struct{}

func (noteKind) IDType() string { return "note_id" }

type NoteID = es.ID[noteKind]

func NewNoteID(id string) NoteID { return es.MustID[noteKind](id) }

// Note has no custom snapshot encoding, so it is snapshotted as plain JSON.
type Note struct {
	es.BaseAggregate

	Title string   `json:"title"`
	Lines []string `json:"lines"`
}

type (
	NoteTitled struct {
		Title string `json:"title"`
	}
	LineAdded struct {
		Line string `json:"line"`
	}
)

func (NoteTitled) EventType() string { return "note.titled" }
func (LineAdded) EventType() string  { return "note.line_added" }

var NoteDef = es.Define[*Note, noteKind](
	"note",
	func() *Note { return &Note{} },
	es.On(func(n *Note, e *NoteTitled) { n.Title = e.Title }),
	es.On(func(n *Note, e *LineAdded) { n.Lines = append(n.Lines, e.Line) }),
)

func NewNote(id string) (*Note, error) { return NoteDef.Create(NewNoteID(id)) }

func (n *Note) SetTitle(title string) error { return n.Raise(&NoteTitled{Title: title}) }
func (n *Note) AddLine(line string) error   { return n.Raise(&LineAdded{Line: line}) }

// Definitions returns all aggregate definitions of the test domain.
func Definitions() []es.AggregateDefinition {
	return []es.AggregateDefinition{TestAggDef, NoteDef}
}
