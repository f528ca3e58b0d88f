package globaltime

import (
	"fmt"
	"sync"
	"time"
)

// DateLayout is the calendar day key format used for brief partitions.
const DateLayout = "2006-01-02"

const DefaultZone = "Asia/Singapore"

var (
	mu      sync.RWMutex
	nowFunc = time.Now
)

func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	return nowFunc()
}

func UTC() time.Time {
	return Now().UTC()
}

func SetMockTime(t time.Time) {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = func() time.Time { return t }
}

func ResetTime() {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = time.Now
}

// LoadZone resolves an IANA zone name. Singapore has no DST, so a fixed
// UTC+8 zone is used when the host has no tzdata.
func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc, nil
	}
	if name == DefaultZone {
		return time.FixedZone("SGT", 8*60*60), nil
	}
	return nil, fmt.Errorf("load time zone %q: %w", name, err)
}

// DayKey formats t as a calendar day in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

// Today returns the current calendar day key in loc.
func Today(loc *time.Location) string {
	return DayKey(Now(), loc)
}
