//go:build linux

package devices

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pilebones/go-udev/crawler"
	"github.com/pilebones/go-udev/netlink"
)

const (
	sysfsRoot        = "/sys"
	crawlCacheTTL    = 2 * time.Second
	crawlWaitTimeout = 5 * time.Second
)

// ErrDescriptorNotFound reports that sysfs has no usb_device for a VID/PID.
var ErrDescriptorNotFound = errors.New("usb device not found in sysfs")

// SysfsResolver reads USB string descriptors from sysfs attributes of the
// usb_device nodes discovered by a udev crawl.
type SysfsResolver struct {
	root  string
	crawl func(ctx context.Context) (map[string][]string, error)
	now   func() time.Time

	// existing starts the udev walk; crawler.ExistingDevices outside tests.
	existing    func(queue chan crawler.Device, errs chan error, matcher netlink.Matcher) chan struct{}
	waitTimeout time.Duration

	mu      sync.Mutex
	index   map[string][]string
	indexAt time.Time
}

// NewSystemResolver returns the platform descriptor resolver.
func NewSystemResolver() DescriptorResolver {
	return NewSysfsResolver(sysfsRoot)
}

// NewSysfsResolver builds a resolver rooted at the given sysfs mount.
func NewSysfsResolver(root string) *SysfsResolver {
	r := &SysfsResolver{
		root:        root,
		now:         time.Now,
		existing:    crawler.ExistingDevices,
		waitTimeout: crawlWaitTimeout,
	}
	r.crawl = r.crawlUSBDevices
	return r
}

// Resolve returns the manufacturer and product strings of the usb_device
// whose PRODUCT id matches. Missing string attributes yield empty strings.
func (r *SysfsResolver) Resolve(ctx context.Context, vendorID, productID uint16) (USBStrings, error) {
	index, err := r.snapshot(ctx)
	if err != nil {
		return USBStrings{}, err
	}
	dirs := index[FormatID(vendorID, productID)]
	if len(dirs) == 0 {
		return USBStrings{}, fmt.Errorf("%w: %s", ErrDescriptorNotFound, FormatID(vendorID, productID))
	}
	dir := dirs[0]
	manufacturer, err := readAttribute(dir, "manufacturer")
	if err != nil {
		return USBStrings{}, err
	}
	product, err := readAttribute(dir, "product")
	if err != nil {
		return USBStrings{}, err
	}
	return USBStrings{Manufacturer: manufacturer, Product: product}, nil
}

func (r *SysfsResolver) snapshot(ctx context.Context) (map[string][]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index != nil && r.now().Sub(r.indexAt) < crawlCacheTTL {
		return r.index, nil
	}
	index, err := r.crawl(ctx)
	if err != nil {
		return nil, err
	}
	r.index = index
	r.indexAt = r.now()
	return index, nil
}

func (r *SysfsResolver) crawlUSBDevices(ctx context.Context) (map[string][]string, error) {
	queue := make(chan crawler.Device)
	errs := make(chan error, 1)
	matcher := &netlink.RuleDefinitions{}
	matcher.AddRule(netlink.RuleDefinition{
		Env: map[string]string{"DEVTYPE": "usb_device"},
	})
	quit := r.existing(queue, errs, matcher)
	// The walker only checks quit between files and sends on queue
	// unconditionally, so keep receiving until it closes queue.
	defer func() {
		close(quit)
		go func() {
			for range queue {
			}
		}()
	}()

	waitCtx, cancel := context.WithTimeout(ctx, r.waitTimeout)
	defer cancel()

	index := make(map[string][]string)
	for {
		select {
		case <-waitCtx.Done():
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return index, nil
			}
			return nil, waitCtx.Err()
		case err := <-errs:
			if err != nil {
				return nil, fmt.Errorf("crawl usb devices: %w", err)
			}
		case device, ok := <-queue:
			if !ok {
				return index, nil
			}
			if device.Env["DEVTYPE"] != "usb_device" {
				continue
			}
			id, ok := productEnvID(device.Env["PRODUCT"])
			if !ok {
				continue
			}
			index[id] = append(index[id], r.deviceDir(device.KObj))
		}
	}
}

func (r *SysfsResolver) deviceDir(kobj string) string {
	if strings.HasPrefix(kobj, r.root+"/") {
		return kobj
	}
	return filepath.Join(r.root, kobj)
}

// productEnvID converts a udev PRODUCT value ("403/6001/600") to vvvv:pppp.
func productEnvID(product string) (string, bool) {
	vendorID, productID, ok := ParseProductEnv(product)
	if !ok {
		return "", false
	}
	return FormatID(vendorID, productID), true
}

func readAttribute(dir, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read usb %s: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}
