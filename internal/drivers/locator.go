// internal/drivers/locator.go
package drivers

import (
	"path"
	"strings"
)

const schemeSeparator = "://"

// Recognized locator schemes.
const (
	SchemeS3    = "s3://"
	SchemeGCS   = "gs://"
	SchemeAzure = "az://"
	SchemeFile  = "file://"
	SchemeTemp  = "temp://"
)

// Kind identifies a backend implementation.
type Kind string

const (
	KindS3    Kind = "s3"
	KindGCS   Kind = "gcs"
	KindAzure Kind = "azure"
	KindFile  Kind = "file"
	KindTemp  Kind = "temp"
)

// IsObjectStore reports whether the kind is a bucket/container style store.
func (k Kind) IsObjectStore() bool {
	switch k {
	case KindS3, KindGCS, KindAzure:
		return true
	}
	return false
}

// DefaultSchemes maps each recognized scheme to its backend kind.
func DefaultSchemes() map[string]Kind {
	return map[string]Kind{
		SchemeS3:    KindS3,
		SchemeGCS:   KindGCS,
		SchemeAzure: KindAzure,
		SchemeFile:  KindFile,
		SchemeTemp:  KindTemp,
	}
}

// Locator is a parsed resource locator. Scheme keeps the trailing "://".
type Locator struct {
	Scheme string
	Path   string
}

// ParseLocator splits raw into its scheme prefix and remainder.
func ParseLocator(raw string) (Locator, error) {
	idx := strings.Index(raw, schemeSeparator)
	if idx < 0 {
		return Locator{}, ErrInvalidLocator.New("could not find %q in %q", schemeSeparator, raw)
	}
	end := idx + len(schemeSeparator)
	return Locator{Scheme: raw[:end], Path: raw[end:]}, nil
}

func (l Locator) String() string {
	return l.Scheme + l.Path
}

// Split divides the remainder at the first "/" into a bucket or container
// and an object key.
func (l Locator) Split() (container, key string, err error) {
	container, key, ok := strings.Cut(l.Path, "/")
	if !ok || container == "" || key == "" {
		return "", "", ErrInvalidLocator.New("expected %scontainer/key, got %q", l.Scheme, l.String())
	}
	return container, key, nil
}

// Ext returns the lowercased extension of the locator path, including the dot.
func (l Locator) Ext() string {
	return strings.ToLower(path.Ext(l.Path))
}

// Ext is a convenience for ParseLocator(raw).Ext() that tolerates bad input.
func Ext(raw string) string {
	loc, err := ParseLocator(raw)
	if err != nil {
		return strings.ToLower(path.Ext(raw))
	}
	return loc.Ext()
}

func parseFor(raw, scheme string) (Locator, error) {
	loc, err := ParseLocator(raw)
	if err != nil {
		return Locator{}, err
	}
	if loc.Scheme != scheme {
		return Locator{}, ErrInvalidLocator.New("expected %s locator, got %q", scheme, raw)
	}
	return loc, nil
}
