package sessiondata

import "fmt"

func errSymbolNotRegistered(symbol string) error {
	return fmt.Errorf("sessiondata: symbol %q is not registered", symbol)
}

func errIntervalNotAttached(tag string) error {
	return fmt.Errorf("sessiondata: interval %q is not attached", tag)
}
