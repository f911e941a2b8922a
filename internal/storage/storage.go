// Package storage writes cumulative flight logs to a versioned object store.
//
// Each write replaces the whole object under a deterministic key and the
// store keeps every prior version. Two implementations of Store are provided:
//   - MemoryStore: in-process, for tests and development.
//   - S3Store: an S3 bucket with versioning enabled.
package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/jmerrifield20/uavledger/internal/faults"
)

// ErrVersionNotFound is returned when a key or version does not exist.
var ErrVersionNotFound = errors.New("object version not found")

// ErrUnversioned is returned when a write did not produce a version id,
// which means versioning is disabled on the bucket.
var ErrUnversioned = errors.New("object store did not return a version id")

// Version describes one immutable version of an object.
type Version struct {
	ID           string    `json:"version_id"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	IsLatest     bool      `json:"is_latest"`
	ETag         string    `json:"etag,omitempty"`
}

// Store is the versioned object store boundary.
type Store interface {
	// Bucket names the bucket (or namespace) objects are written to.
	Bucket() string

	// Put overwrites key with body and returns the new version id.
	Put(ctx context.Context, key string, body []byte) (string, error)

	// ListVersions returns every version of key, newest first.
	ListVersions(ctx context.Context, key string) ([]Version, error)

	// GetVersion returns the content of one version of key.
	GetVersion(ctx context.Context, key, versionID string) ([]byte, error)

	// Exists reports whether key currently has content.
	Exists(ctx context.Context, key string) (bool, error)

	// ListPrefixes returns the immediate child prefixes under prefix.
	ListPrefixes(ctx context.Context, prefix string) ([]string, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}

// LogFileName is the object name of a flight's cumulative log.
const LogFileName = "flight.log"

// Layout maps flight ids to object keys.
type Layout struct {
	Prefix string // e.g. "flights"
}

// FlightKey returns the key holding the cumulative log of flightID,
// e.g. "flights/flight-001/flight.log".
func (l Layout) FlightKey(flightID string) (string, error) {
	if err := ValidateFlightID(flightID); err != nil {
		return "", err
	}
	return l.root() + flightID + "/" + LogFileName, nil
}

// FlightIDFromPrefix extracts the flight id from a child prefix returned by
// ListPrefixes.
func (l Layout) FlightIDFromPrefix(p string) string {
	return strings.Trim(strings.TrimPrefix(p, l.root()), "/")
}

func (l Layout) root() string {
	p := strings.Trim(l.Prefix, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

// ValidateFlightID rejects ids that cannot be embedded in an object key.
func ValidateFlightID(flightID string) error {
	if strings.TrimSpace(flightID) == "" {
		return faults.Inputf("flight id is required")
	}
	if strings.ContainsAny(flightID, "/\\") {
		return faults.Inputf("flight id %q must not contain path separators", flightID)
	}
	if len(flightID) > 256 {
		return faults.Inputf("flight id exceeds 256 characters")
	}
	return nil
}

// ListFlights returns the ids of every flight under the layout prefix whose
// log object exists, sorted.
func ListFlights(ctx context.Context, s Store, l Layout) ([]string, error) {
	prefixes, err := s.ListPrefixes(ctx, l.root())
	if err != nil {
		return nil, err
	}
	var flights []string
	for _, p := range prefixes {
		id := l.FlightIDFromPrefix(p)
		key, err := l.FlightKey(id)
		if err != nil {
			continue
		}
		ok, err := s.Exists(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			flights = append(flights, id)
		}
	}
	sort.Strings(flights)
	return flights, nil
}
