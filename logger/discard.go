package logger

// Discard drops every entry. Engines, rule distributors and reset services
// write here until a logger option replaces it.
type Discard struct{}

func NewDiscard() Discard { return Discard{} }

func (Discard) Debug(string, ...any) {}
func (Discard) Info(string, ...any)  {}
func (Discard) Error(string, ...any) {}
