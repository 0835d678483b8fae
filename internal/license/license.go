package license

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// DefaultDeviceLimit is the number of device slots a license is issued
// with unless the issuance request says otherwise.
const DefaultDeviceLimit = 1

// DefaultValidityPeriod is how long a freshly issued license stays
// valid before the passive expiry check starts rejecting it.
const DefaultValidityPeriod = 365 * 24 * time.Hour

// License is the central entity: one record per completed order.
// Key and OrderID are immutable after creation. Version backs the
// optimistic-concurrency update discipline in the store; it is not
// part of the wire format.
type License struct {
	ID              string    `json:"id"`
	Key             string    `json:"license_key"`
	CustomerEmail   string    `json:"customer_email"`
	CustomerName    string    `json:"customer_name"`
	OrderID         string    `json:"order_id"`
	ProductName     string    `json:"product_name"`
	DeviceLimit     int       `json:"device_limit"`
	Devices         DeviceSet `json:"activated_devices"`
	ActivationCount int       `json:"activation_count"`
	// IsActivated is sticky: true once the license has ever had a
	// device bound, even if every device is later deactivated.
	IsActivated bool `json:"is_activated"`
	// IsActive is the administrative flag. A revoked license has
	// IsActive=false regardless of device state.
	IsActive    bool       `json:"is_active"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiryDate  time.Time  `json:"expiry_date"`

	Version int64 `json:"-"`
}

// IsExpired reports whether the license has passed its expiry date.
// Expiry is a passive check, never a deletion.
func (l *License) IsExpired(now time.Time) bool {
	return now.After(l.ExpiryDate)
}

// DevicesRemaining returns the number of free device slots.
func (l *License) DevicesRemaining() int {
	remaining := l.DeviceLimit - l.Devices.Len()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// DeviceSet is a genuine set of device identifiers. The wire and
// storage encoding is a sorted JSON array; the store adapter also
// accepts the legacy comma-delimited string form on read.
type DeviceSet map[string]struct{}

// NewDeviceSet builds a set from the given identifiers, dropping
// empty strings and duplicates.
func NewDeviceSet(ids ...string) DeviceSet {
	s := make(DeviceSet, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

// Has reports whether the device is in the set.
func (s DeviceSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts the device and reports whether it was newly added.
func (s DeviceSet) Add(id string) bool {
	if s.Has(id) {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Remove deletes the device and reports whether it was present.
func (s DeviceSet) Remove(id string) bool {
	if !s.Has(id) {
		return false
	}
	delete(s, id)
	return true
}

// Len returns the number of devices currently in the set.
func (s DeviceSet) Len() int { return len(s) }

// Clone returns an independent copy of the set.
func (s DeviceSet) Clone() DeviceSet {
	c := make(DeviceSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// Sorted returns the device identifiers in lexicographic order.
func (s DeviceSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MarshalJSON encodes the set as a sorted JSON array.
func (s DeviceSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes a JSON array of device identifiers.
func (s *DeviceSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewDeviceSet(ids...)
	return nil
}

// Clone returns a deep copy of the license, safe to mutate without
// affecting the original.
func (l *License) Clone() *License {
	c := *l
	c.Devices = l.Devices.Clone()
	if l.ActivatedAt != nil {
		at := *l.ActivatedAt
		c.ActivatedAt = &at
	}
	return &c
}
