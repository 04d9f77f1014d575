package tracker

import (
	"sort"
	"strconv"
	"strings"
)

// X10 project ids and slot numbers used by ga.js.
const (
	x10EventProjectID          = 5
	x10CustomVarNameProjectID  = 8
	x10CustomVarValueProjectID = 9
	x10CustomVarScopeProjectID = 11
	x10SitespeedProjectID      = 14

	x10ObjectKeyNum  = 1
	x10TypeKeyNum    = 2
	x10LabelKeyNum   = 3
	x10ValueValueNum = 1
)

type x10DataType int

const (
	x10Key x10DataType = iota
	x10Value
)

// type qualifiers, in render order
var x10Types = [...]string{x10Key: "k", x10Value: "v"}

var x10Escaper = strings.NewReplacer("'", "'0", ")", "'1", "*", "'2", "!", "'3")

type x10Project struct {
	id   int
	data [len(x10Types)]map[int]string
}

// X10 packs several numbered key/value slots per project into the compact
// string carried by the utme parameter. Projects render in the order they
// were first written to.
type X10 struct {
	projects []*x10Project
}

func (x *X10) project(id int, create bool) *x10Project {
	for _, p := range x.projects {
		if p.id == id {
			return p
		}
	}
	if !create {
		return nil
	}
	p := &x10Project{id: id}
	x.projects = append(x.projects, p)
	return p
}

func (x *X10) set(projectID int, t x10DataType, num int, value string) {
	if value == "" {
		return
	}
	p := x.project(projectID, true)
	if p.data[t] == nil {
		p.data[t] = make(map[int]string)
	}
	p.data[t][num] = value
}

func (x *X10) clear(projectID int, t x10DataType) {
	if p := x.project(projectID, false); p != nil {
		p.data[t] = nil
	}
}

// SetKey stores value in key slot num of the project.
func (x *X10) SetKey(projectID, num int, value string) { x.set(projectID, x10Key, num, value) }

// SetValue stores value in value slot num of the project.
func (x *X10) SetValue(projectID, num int, value string) { x.set(projectID, x10Value, num, value) }

// ClearKey drops every key slot of the project.
func (x *X10) ClearKey(projectID int) { x.clear(projectID, x10Key) }

// ClearValue drops every value slot of the project.
func (x *X10) ClearValue(projectID int) { x.clear(projectID, x10Value) }

// Key returns the stored key slot, if any.
func (x *X10) Key(projectID, num int) (string, bool) {
	p := x.project(projectID, false)
	if p == nil {
		return "", false
	}
	v, ok := p.data[x10Key][num]
	return v, ok
}

// Render returns the encoded string, or "" when nothing was stored.
func (x *X10) Render() string {
	var b strings.Builder
	for _, p := range x.projects {
		body := renderX10Project(p)
		if body == "" {
			continue
		}
		b.WriteString(strconv.Itoa(p.id))
		b.WriteString(body)
	}
	return b.String()
}

func renderX10Project(p *x10Project) string {
	var b strings.Builder
	// The qualifier is only needed when the preceding type was absent.
	needQualifier := false
	for t, data := range p.data {
		if data == nil {
			needQualifier = true
			continue
		}
		if needQualifier {
			b.WriteString(x10Types[t])
		}
		b.WriteString(renderX10Data(data))
		needQualifier = false
	}
	return b.String()
}

func renderX10Data(data map[int]string) string {
	nums := make([]int, 0, len(data))
	for n := range data {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	entries := make([]string, 0, len(nums))
	last := 0
	for _, n := range nums {
		var s string
		// Omit the slot number for the first slot and for consecutive slots.
		if n != 1 && n-1 != last {
			s = strconv.Itoa(n) + "!"
		}
		entries = append(entries, s+x10Escaper.Replace(data[n]))
		last = n
	}
	return "(" + strings.Join(entries, "*") + ")"
}
