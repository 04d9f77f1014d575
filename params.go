package tracker

import (
	"strings"
)

// ParameterHolder is the ordered parameter set of one outbound request.
// Setting an existing name keeps its original position.
type ParameterHolder struct {
	names  []string
	values map[string]string
}

func NewParameterHolder() *ParameterHolder {
	return &ParameterHolder{values: make(map[string]string)}
}

func (p *ParameterHolder) Set(name, value string) {
	if _, ok := p.values[name]; !ok {
		p.names = append(p.names, name)
	}
	p.values[name] = value
}

// Append concatenates value onto the existing value of name.
func (p *ParameterHolder) Append(name, value string) {
	if value == "" {
		return
	}
	p.Set(name, p.values[name]+value)
}

func (p *ParameterHolder) Get(name string) string {
	return p.values[name]
}

func (p *ParameterHolder) Has(name string) bool {
	_, ok := p.values[name]
	return ok
}

func (p *ParameterHolder) Len() int {
	return len(p.names)
}

// Names returns parameter names in insertion order.
func (p *ParameterHolder) Names() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// QueryString renders every parameter in order, cookie values included,
// with names and values URI-component encoded.
func (p *ParameterHolder) QueryString() string {
	var b strings.Builder
	for _, name := range p.names {
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(EncodeURIComponent(name))
		b.WriteByte('=')
		b.WriteString(EncodeURIComponent(p.values[name]))
	}
	return b.String()
}
