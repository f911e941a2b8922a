package anchor

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/jmerrifield20/uavledger/internal/chain"
	"github.com/jmerrifield20/uavledger/internal/faults"
)

const locatorScheme = "s3"

// Locator is what a checkpoint anchor stores in the ledger's storage-key
// slot: where the cumulative log lives, which version was anchored, and the
// chain tip it commits to.
//
// Encoded form: s3://{bucket}/{key}?seq={n}&tip=0x{64hex}&versionId={id}
//
// Records written by hand hold a plain object key. Those parse into a
// Locator with only Key set.
type Locator struct {
	Bucket    string
	Key       string
	VersionID string
	SeqNo     int
	Tip       chain.Digest
}

// Plain reports whether l carries only a storage key.
func (l Locator) Plain() bool {
	return l.Bucket == "" && l.VersionID == "" && l.SeqNo == 0 && l.Tip.IsZero()
}

// String encodes l. A plain locator encodes as its bare key.
func (l Locator) String() string {
	if l.Plain() {
		return l.Key
	}
	q := url.Values{}
	if l.SeqNo > 0 {
		q.Set("seq", strconv.Itoa(l.SeqNo))
	}
	if !l.Tip.IsZero() {
		q.Set("tip", l.Tip.Hex())
	}
	if l.VersionID != "" {
		q.Set("versionId", l.VersionID)
	}
	u := url.URL{
		Scheme:   locatorScheme,
		Host:     l.Bucket,
		Path:     "/" + l.Key,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// ParseLocator decodes a ledger storage-key value. An empty string is an
// error: callers must treat it as "no record" before parsing.
func ParseLocator(s string) (Locator, error) {
	if s == "" {
		return Locator{}, faults.Inputf("empty storage locator")
	}
	if !strings.HasPrefix(s, locatorScheme+"://") {
		return Locator{Key: s}, nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return Locator{}, faults.Inputf("storage locator %q: %v", s, err)
	}
	l := Locator{
		Bucket:    u.Host,
		Key:       strings.TrimPrefix(u.Path, "/"),
		VersionID: u.Query().Get("versionId"),
	}
	if l.Key == "" {
		return Locator{}, faults.Inputf("storage locator %q has no key", s)
	}
	if seq := u.Query().Get("seq"); seq != "" {
		n, err := strconv.Atoi(seq)
		if err != nil || n < 1 {
			return Locator{}, faults.Inputf("storage locator %q: bad seq %q", s, seq)
		}
		l.SeqNo = n
	}
	if tip := u.Query().Get("tip"); tip != "" {
		d, err := chain.ParseHex(tip)
		if err != nil {
			return Locator{}, fmt.Errorf("storage locator tip: %w", err)
		}
		l.Tip = d
	}
	return l, nil
}
