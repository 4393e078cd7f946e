package graph

import "fmt"

// Violation is one build-time schema or rule problem.
type Violation struct {
	Message string `json:"message"`
	Node    string `json:"node,omitempty"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ValidationError aggregates every violation found while building a graph.
type ValidationError []*Violation

func (e ValidationError) Error() string {
	msg := "violations found:\n"
	for _, v := range e {
		line := "- " + v.Message
		if v.Node != "" {
			line += " at " + v.Node
		}
		if v.File != "" {
			line += fmt.Sprintf(" (%s:%d)", v.File, v.Line)
		}
		msg += line + "\n"
	}
	return msg
}

func violationAt(node *Node, format string, args ...any) *Violation {
	v := &Violation{Message: fmt.Sprintf(format, args...)}
	if node != nil {
		v.Node = node.Path
		if node.RuleLocation != nil {
			v.File = node.RuleLocation.File
			v.Line = node.RuleLocation.Line
		}
	}
	return v
}
