package crushmap

import "fmt"

// Device is a leaf of the placement hierarchy (an OSD).  Device ids are
// always non-negative.
type Device struct {
	ID    int
	Name  string
	Class string
}

type BucketType struct {
	TypeID int
	Name   string
}

type Item struct {
	ID     int
	Weight float64
	Pos    int
}

// Bucket is a typed container node of the hierarchy.  Items reference
// devices (non-negative ids) or child buckets (negative ids).
type Bucket struct {
	ID       int
	Name     string
	TypeID   int
	TypeName string
	Weight   float64
	Alg      string
	Hash     string
	Items    []Item
}

type StepOp int

const (
	StepTake StepOp = iota
	StepChoose
	StepEmit
	StepSet
	StepNoop
)

func (o StepOp) String() string {
	switch o {
	case StepTake:
		return "take"
	case StepChoose:
		return "choose"
	case StepEmit:
		return "emit"
	case StepSet:
		return "set"
	case StepNoop:
		return "noop"
	}
	return fmt.Sprintf("StepOp(%d)", int(o))
}

type ChooseMode int

const (
	ChooseFirstN ChooseMode = iota
	ChooseIndep
)

type ChooseScope int

const (
	ScopeNode ChooseScope = iota
	ScopeLeaf
)

// Step is one decoded rule opcode.  Which fields are meaningful depends on Op:
// Take uses Item/ItemName, Choose uses Mode/Scope/Num/BucketType and Set uses
// SetName/SetValue.
type Step struct {
	Op StepOp

	Item     int
	ItemName string

	Mode       ChooseMode
	Scope      ChooseScope
	Num        int
	BucketType string

	SetName  string
	SetValue int
}

// OpName renders the step opcode the way it appears in a crush map dump.
func (s Step) OpName() string {
	switch s.Op {
	case StepChoose:
		name := "choose"
		if s.Scope == ScopeLeaf {
			name = "chooseleaf"
		}
		if s.Mode == ChooseIndep {
			return name + "_indep"
		}
		return name + "_firstn"
	case StepSet:
		return s.SetName
	}
	return s.Op.String()
}

type Rule struct {
	ID      int
	Name    string
	RuleSet int
	Type    int
	MinSize int
	MaxSize int
	Steps   []Step
}

func (r *Rule) TakeCount() int {
	count := 0
	for _, step := range r.Steps {
		if step.Op == StepTake {
			count++
		}
	}
	return count
}
