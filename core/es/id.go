package es

import "fmt"

// AggregateID identifies one aggregate stream. Two ids are equal when both the
// concrete id type and the string value match.
type AggregateID interface {
	fmt.Stringer
	IDType() string
}

// IDKind is implemented by the zero-size marker types that name an id type:
//
//	type accountKind struct{}
//	func (accountKind) IDType() string { return "account_id" }
//	type AccountID = es.ID[accountKind]
type IDKind interface {
	IDType() string
}

// ID is the generic AggregateID implementation. Each marker type K yields its
// own comparable Go type, so ids of different aggregate kinds never compare equal.
type ID[K IDKind] struct {
	value string
}

// NewID validates value and returns a typed id.
func NewID[K IDKind](value string) (ID[K], error) {
	if value == "" {
		var k K
		return ID[K]{}, fmt.Errorf("%w: empty %s", ErrInvalidIdentifier, k.IDType())
	}
	return ID[K]{value: value}, nil
}

// MustID is like NewID but panics on an invalid value.
func MustID[K IDKind](value string) ID[K] {
	id, err := NewID[K](value)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID[K]) String() string { return id.value }
func (id ID[K]) IsZero() bool   { return id.value == "" }
func (id ID[K]) IDType() string {
	var k K
	return k.IDType()
}

func (id ID[K]) MarshalText() ([]byte, error) { return []byte(id.value), nil }
func (id *ID[K]) UnmarshalText(b []byte) error {
	parsed, err := NewID[K](string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// SameID reports whether a and b denote the same aggregate.
func SameID(a, b AggregateID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IDType() == b.IDType() && a.String() == b.String()
}
