package plugins

import (
	"plugin"
)

// Exported symbol names looked up in plugin artifacts.
const (
	SymbolAPIVersion = "PluginAPIVersion"
	SymbolNew        = "NewPlugin"
)

// Symbols resolves exported names of an opened artifact.
type Symbols interface {
	Lookup(name string) (any, error)
}

// Opener opens plugin artifacts.
type Opener interface {
	Open(path string) (Symbols, error)
}

// GoPluginOpener opens artifacts with the standard library plugin package.
type GoPluginOpener struct{}

func (GoPluginOpener) Open(path string) (Symbols, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return goPluginSymbols{p: p}, nil
}

type goPluginSymbols struct {
	p *plugin.Plugin
}

func (s goPluginSymbols) Lookup(name string) (any, error) {
	sym, err := s.p.Lookup(name)
	if err != nil {
		return nil, err
	}
	return sym, nil
}
