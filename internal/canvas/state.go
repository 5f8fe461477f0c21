package canvas

import (
	"time"

	"github.com/npezzotti/go-drawboard/internal/types"
)

// DrawingState is a room's operation log: the committed stroke
// history, the linear redo stack, and the strokes currently being
// drawn keyed by author id. It is not safe for concurrent use; the
// owning room goroutine serializes all calls.
type DrawingState struct {
	history    []*types.StrokeOp
	redoStack  []*types.StrokeOp
	inProgress map[string]*types.StrokeOp
	nextOpId   int
}

func NewDrawingState() *DrawingState {
	return &DrawingState{
		inProgress: make(map[string]*types.StrokeOp),
		nextOpId:   1,
	}
}

// StrokeParams are the rendering attributes fixed at stroke start.
type StrokeParams struct {
	Tool       string      `json:"tool"`
	Color      string      `json:"color"`
	Width      float64     `json:"width"`
	BrushStyle string      `json:"brushStyle,omitempty"`
	Start      types.Point `json:"start"`
}

// Snapshot is the full visible history, sent to joining clients and
// broadcast whole after undo/redo/clear.
type Snapshot struct {
	History  []*types.StrokeOp `json:"history"`
	NextOpId int               `json:"nextOpId"`
}

type PointDelta struct {
	OpId  int         `json:"opId"`
	Point types.Point `json:"point"`
}

type StrokeResult struct {
	OpId int `json:"opId"`
}

type Stats struct {
	TotalStrokes int `json:"totalStrokes"`
	TotalPoints  int `json:"totalPoints"`
	ActiveUsers  int `json:"activeUsers"`
}

func (ds *DrawingState) Snapshot() *Snapshot {
	history := ds.history
	if history == nil {
		history = []*types.StrokeOp{}
	}

	return &Snapshot{
		History:  history,
		NextOpId: ds.nextOpId,
	}
}

// BeginStroke allocates an op id and opens a new in-progress stroke
// for the author, replacing any stale one. Starting a stroke
// invalidates the redo stack.
func (ds *DrawingState) BeginStroke(author *types.User, params StrokeParams) *types.StrokeOp {
	if params.BrushStyle == "" {
		params.BrushStyle = "solid"
	}

	op := &types.StrokeOp{
		OpId:       ds.nextOpId,
		UserId:     author.Id,
		UserName:   author.Name,
		Tool:       params.Tool,
		Color:      params.Color,
		Width:      params.Width,
		BrushStyle: params.BrushStyle,
		Points:     []types.Point{params.Start},
		Timestamp:  time.Now().UTC(),
	}
	ds.nextOpId++

	ds.inProgress[author.Id] = op
	ds.redoStack = nil

	return op
}

// AppendPoint extends the author's in-progress stroke. Returns nil if
// the author has no active stroke; the caller drops the event.
func (ds *DrawingState) AppendPoint(author *types.User, p types.Point) *PointDelta {
	op, ok := ds.inProgress[author.Id]
	if !ok {
		return nil
	}

	op.Points = append(op.Points, p)
	return &PointDelta{OpId: op.OpId, Point: p}
}

// EndStroke commits the author's in-progress stroke to history.
// Returns nil if the author has no active stroke.
func (ds *DrawingState) EndStroke(author *types.User) *StrokeResult {
	op, ok := ds.inProgress[author.Id]
	if !ok {
		return nil
	}

	delete(ds.inProgress, author.Id)
	ds.history = append(ds.history, op)

	return &StrokeResult{OpId: op.OpId}
}

// Undo pops the most recently committed stroke, whoever drew it, onto
// the redo stack. Returns nil on empty history.
func (ds *DrawingState) Undo() *Snapshot {
	if len(ds.history) == 0 {
		return nil
	}

	removed := ds.history[len(ds.history)-1]
	ds.history = ds.history[:len(ds.history)-1]
	ds.redoStack = append(ds.redoStack, removed)

	return ds.Snapshot()
}

// Redo restores the most recently undone stroke. Returns nil on an
// empty redo stack.
func (ds *DrawingState) Redo() *Snapshot {
	if len(ds.redoStack) == 0 {
		return nil
	}

	restored := ds.redoStack[len(ds.redoStack)-1]
	ds.redoStack = ds.redoStack[:len(ds.redoStack)-1]
	ds.history = append(ds.history, restored)

	return ds.Snapshot()
}

// Clear empties history, the redo stack and all in-progress strokes.
// nextOpId is not reset; op ids are never reused within a room.
func (ds *DrawingState) Clear() *Snapshot {
	ds.history = nil
	ds.redoStack = nil
	clear(ds.inProgress)

	return ds.Snapshot()
}

func (ds *DrawingState) Stats() Stats {
	var points int
	for _, op := range ds.history {
		points += len(op.Points)
	}

	return Stats{
		TotalStrokes: len(ds.history),
		TotalPoints:  points,
		ActiveUsers:  len(ds.inProgress),
	}
}
