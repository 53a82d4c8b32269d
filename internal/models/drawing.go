package models

import "errors"

type DrawingKind string

const (
	KindPen       DrawingKind = "pen"
	KindRectangle DrawingKind = "rectangle"
	KindCircle    DrawingKind = "circle"
	KindText      DrawingKind = "text"
	KindEraser    DrawingKind = "eraser"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DrawingOp is one persisted drawing action. Ops are never mutated after
// creation; undo and redo replace the whole log instead.
type DrawingOp struct {
	ID          string      `json:"id"`
	Type        DrawingKind `json:"type"`
	Points      []Point     `json:"points"`
	Color       string      `json:"color"`
	StrokeWidth float64     `json:"strokeWidth"`
	Fill        bool        `json:"fill,omitempty"`
	Text        string      `json:"text,omitempty"`
	FontSize    float64     `json:"fontSize,omitempty"`
	Timestamp   int64       `json:"timestamp"`
	UserID      string      `json:"userId,omitempty"`
}

var (
	ErrMissingOpID     = errors.New("drawing op is missing an id")
	ErrUnknownKind     = errors.New("drawing op has an unknown type")
	ErrMissingPoints   = errors.New("drawing op has no points")
	ErrWrongPointCount = errors.New("drawing op has the wrong number of points for its type")
	ErrMissingText     = errors.New("text op has no text")
)

func (op *DrawingOp) Validate() error {
	if op.ID == "" {
		return ErrMissingOpID
	}
	if len(op.Points) == 0 {
		return ErrMissingPoints
	}

	switch op.Type {
	case KindPen, KindEraser:
		if len(op.Points) < 2 {
			return ErrWrongPointCount
		}
	case KindRectangle, KindCircle:
		if len(op.Points) != 2 {
			return ErrWrongPointCount
		}
	case KindText:
		if len(op.Points) != 1 {
			return ErrWrongPointCount
		}
		if op.Text == "" {
			return ErrMissingText
		}
	default:
		return ErrUnknownKind
	}
	return nil
}

type CursorSample struct {
	RoomID    string  `json:"roomId,omitempty"`
	UserID    string  `json:"userId,omitempty"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	IsDrawing bool    `json:"isDrawing"`
}

type ChatMessage struct {
	ID        string `json:"id"`
	RoomID    string `json:"roomId,omitempty"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}
