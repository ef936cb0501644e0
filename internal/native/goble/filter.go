package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/blecore/internal/device"
)

// serviceFilter matches advertisements carrying at least one wanted service.
// An empty filter matches everything.
type serviceFilter map[string]struct{}

func newServiceFilter(uuids []string) serviceFilter {
	if len(uuids) == 0 {
		return nil
	}
	f := make(serviceFilter, len(uuids))
	for _, u := range device.NormalizeUUIDs(uuids) {
		f[u] = struct{}{}
	}
	return f
}

func (f serviceFilter) matches(services []string) bool {
	if len(f) == 0 {
		return true
	}
	for _, s := range services {
		if _, ok := f[s]; ok {
			return true
		}
	}
	return false
}

func advertisedServices(adv ble.Advertisement) []string {
	uuids := adv.Services()
	if len(uuids) == 0 {
		return nil
	}
	raw := make([]string, 0, len(uuids))
	for _, u := range uuids {
		raw = append(raw, u.String())
	}
	return device.NormalizeUUIDs(raw)
}
