//go:build !linux

package devices

import "context"

type enumeratorOnlyResolver struct{}

// NewSystemResolver returns the platform descriptor resolver. Without sysfs
// the enumerator's product string is the only name available.
func NewSystemResolver() DescriptorResolver {
	return enumeratorOnlyResolver{}
}

func (enumeratorOnlyResolver) Resolve(context.Context, uint16, uint16) (USBStrings, error) {
	return USBStrings{}, nil
}
