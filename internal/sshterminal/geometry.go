package sshterminal

import "fmt"

// Terminal dimension bounds.
const (
	MaxTermCols = 500
	MaxTermRows = 200
)

// DefaultGeometry is used when the client has not reported a size.
var DefaultGeometry = Geometry{Rows: 24, Cols: 80}

// Geometry is a pseudo-terminal size.
type Geometry struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

func (g Geometry) Valid() bool {
	return g.Rows > 0 && g.Cols > 0
}

// Clamp caps the dimensions to MaxTermRows x MaxTermCols.
func (g Geometry) Clamp() Geometry {
	if g.Rows > MaxTermRows {
		g.Rows = MaxTermRows
	}
	if g.Cols > MaxTermCols {
		g.Cols = MaxTermCols
	}
	return g
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d", g.Cols, g.Rows)
}
