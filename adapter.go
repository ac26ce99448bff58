package ecuflash

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

type AdapterInfo struct {
	Name               string
	Description        string
	Alias              []string
	RequiresSerialPort bool
	New                func(*AdapterConfig) (Transport, error)
}

func (a *AdapterInfo) String() string {
	return fmt.Sprintf("%s | %s, requires serial port: %v ", a.Name, a.Description, a.RequiresSerialPort)
}

type AdapterConfig struct {
	Debug        bool
	Port         string
	PortBaudrate int
	// ReadTimeout is the poll interval of the underlying port; a Receive keeps
	// polling until data arrives or its context is done.
	ReadTimeout time.Duration
	// OpenAttempts bounds how many times opening the port is tried.
	OpenAttempts uint
	Logger       *zap.Logger
	// AdditionalConfig carries adapter specific settings, e.g. the key
	// algorithm the simulator expects.
	AdditionalConfig map[string]string
}

func (cfg *AdapterConfig) Log() *zap.Logger {
	if cfg == nil || cfg.Logger == nil {
		return zap.NewNop()
	}
	return cfg.Logger
}

var adapterMap = make(map[string]*AdapterInfo)

// NewAdapter looks up an adapter by name or alias, case insensitive.
func NewAdapter(adapterName string, cfg *AdapterConfig) (Transport, error) {
	if cfg == nil {
		cfg = &AdapterConfig{}
	}
	if adapter := lookupAdapter(adapterName); adapter != nil {
		return adapter.New(cfg)
	}
	return nil, fmt.Errorf("unknown adapter %q", adapterName)
}

// OpenAdapter creates the named adapter and opens it if it needs opening.
func OpenAdapter(ctx context.Context, adapterName string, cfg *AdapterConfig) (Transport, error) {
	tr, err := NewAdapter(adapterName, cfg)
	if err != nil {
		return nil, err
	}
	if o, ok := tr.(Opener); ok {
		if err := o.Open(ctx); err != nil {
			tr.Close()
			return nil, err
		}
	}
	return tr, nil
}

func lookupAdapter(name string) *AdapterInfo {
	normalized := strings.ToLower(name)
	for _, a := range adapterMap {
		if strings.ToLower(a.Name) == normalized {
			return a
		}
		for _, alias := range a.Alias {
			if strings.ToLower(alias) == normalized {
				return a
			}
		}
	}
	return nil
}

func RegisterAdapter(adapter *AdapterInfo) error {
	if _, found := adapterMap[adapter.Name]; !found {
		adapterMap[adapter.Name] = adapter
		return nil
	}
	return fmt.Errorf("adapter %s already registered", adapter.Name)
}

func ListAdapterNames() []string {
	var out []string
	for name := range adapterMap {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}

func ListAdapters() []AdapterInfo {
	var out []AdapterInfo
	for _, name := range ListAdapterNames() {
		out = append(out, *adapterMap[name])
	}
	return out
}
