package ui

import (
	"fmt"
	"io"

	"github.com/Azure/azsqlaudit/internal/ui/common"
	bspinner "github.com/charmbracelet/bubbles/spinner"
	"github.com/magodo/spinner"
)

// Messager abstracts the Messager struct in the github.com/magodo/spinner
type Messager interface {
	SetStatus(msg string)
	SetDetail(msg string)
}

type StdoutMessager struct {
	W io.Writer
}

func (p *StdoutMessager) SetStatus(msg string) {
	fmt.Fprintln(p.W, msg)
}

func (p *StdoutMessager) SetDetail(msg string) {
	fmt.Fprintln(p.W, msg)
}

// Run runs f, either printing its messages line by line to w, or showing them along with a spinner.
func Run(plain bool, w io.Writer, f func(msg Messager) error) error {
	if plain {
		return f(&StdoutMessager{W: w})
	}
	s := bspinner.NewModel()
	s.Spinner = common.Spinner
	s.Style = common.SpinnerStyle
	return spinner.Run(s, func(msg spinner.Messager) error {
		return f(&msg)
	})
}
