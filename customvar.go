package tracker

import "strconv"

// Scope of a custom variable.
type Scope int

const (
	ScopeVisitor Scope = 1
	ScopeSession Scope = 2
	ScopePage    Scope = 3
)

const (
	maxCustomVariables     = 5
	maxCustomVarEncodedLen = 128
)

// CustomVariable occupies one of the five slots. A zero Scope means
// ScopePage.
type CustomVariable struct {
	Index int
	Name  string
	Value string
	Scope Scope
}

func NewCustomVariable(index int, name, value string, scope Scope) *CustomVariable {
	return &CustomVariable{Index: index, Name: name, Value: value, Scope: scope}
}

func (v *CustomVariable) scope() Scope {
	if v.Scope == 0 {
		return ScopePage
	}
	return v.Scope
}

func (v *CustomVariable) validate() error {
	if v.Index < 1 || v.Index > maxCustomVariables {
		return validationErrorf("CustomVariable", "custom variable index has to be between 1 and %d, got %d", maxCustomVariables, v.Index)
	}
	if v.Name == "" || v.Value == "" {
		return validationErrorf("CustomVariable", "custom variables need to have at least a name and value defined")
	}
	if n := len(EncodeURIComponent(v.Name + v.Value)); n > maxCustomVarEncodedLen {
		return validationErrorf("CustomVariable", "combined encoded length of name and value must not exceed %d bytes, got %d", maxCustomVarEncodedLen, n)
	}
	switch v.scope() {
	case ScopeVisitor, ScopeSession, ScopePage:
	default:
		return validationErrorf("CustomVariable", "invalid scope %d", v.Scope)
	}
	return nil
}

// encodeCustomVariables packs vars into X10 projects 8, 9 and 11. vars
// must already be validated and hold at most five entries.
func encodeCustomVariables(vars []*CustomVariable) string {
	var x X10
	x.ClearKey(x10CustomVarNameProjectID)
	x.ClearKey(x10CustomVarValueProjectID)
	x.ClearKey(x10CustomVarScopeProjectID)

	for _, v := range vars {
		x.SetKey(x10CustomVarNameProjectID, v.Index, EncodeURIComponent(v.Name))
		x.SetKey(x10CustomVarValueProjectID, v.Index, EncodeURIComponent(v.Value))
		if s := v.scope(); s != ScopePage {
			x.SetKey(x10CustomVarScopeProjectID, v.Index, strconv.Itoa(int(s)))
		}
	}
	return x.Render()
}
