//go:build !linux

package symbols

// OSProvider on unsupported platforms claims no names, so every hook fails
// with the operation-not-supported convention instead of half-working.
type OSProvider struct{}

func (OSProvider) Lookup(name string) (interface{}, bool) {
	return nil, false
}
