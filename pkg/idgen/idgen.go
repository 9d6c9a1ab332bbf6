// Package idgen implements the six id generation strategies of spec.md
// §4.6: None (caller-supplied), ObjectId, Int32Identity, Int64Identity
// (both backed by a per-collection persisted counter), GuidV4 and GuidV7.
//
// ObjectId reuses pkg/doc.NewObjectIDValue (already grounded on the
// teacher's hostname+pid+counter scheme via xxhash). GuidV4/GuidV7 are
// grounded on github.com/google/uuid, present in the example pack for
// exactly this purpose. The identity strategies need durable state
// (the next integer to hand out) that must survive restarts; rather than
// give idgen its own notion of storage, it asks for that state through
// the small Counters interface, which pkg/collection's catalog satisfies
// by persisting the counter in a collection's metadata document.
package idgen

import (
	"github.com/google/uuid"

	"tinydb/pkg/doc"
)

// Strategy selects how a collection's insert path fills in a missing id
// field. It is chosen per collection and fixed when the collection is
// first opened (collection.Open records it in the new catalog entry).
type Strategy byte

const (
	// None means the caller must supply an id; insert fails if absent.
	None Strategy = iota
	ObjectId
	Int32Identity
	Int64Identity
	GuidV4
	GuidV7
)

func (s Strategy) String() string {
	switch s {
	case None:
		return "none"
	case ObjectId:
		return "object-id"
	case Int32Identity:
		return "int32-identity"
	case Int64Identity:
		return "int64-identity"
	case GuidV4:
		return "guid-v4"
	case GuidV7:
		return "guid-v7"
	default:
		return "unknown"
	}
}

// Counters is the durable-counter dependency Int32Identity/Int64Identity
// need. Next returns the next value to hand out for the given
// collection name. Making the increment durable is up to the
// implementation (the catalog's counter is persisted by its next Save).
type Counters interface {
	Next(collection string) (int64, error)
}

// Generate produces a value for a missing id field. name is the owning
// collection, used only by the identity strategies' persisted counters.
func Generate(s Strategy, counters Counters, name string) (doc.Value, error) {
	switch s {
	case ObjectId:
		return doc.NewObjectID(doc.NewObjectIDValue()), nil
	case Int32Identity:
		n, err := counters.Next(name)
		if err != nil {
			return doc.Value{}, err
		}
		return doc.NewInt32(int32(n)), nil
	case Int64Identity:
		n, err := counters.Next(name)
		if err != nil {
			return doc.Value{}, err
		}
		return doc.NewInt64(n), nil
	case GuidV4:
		id, err := uuid.NewRandom()
		if err != nil {
			return doc.Value{}, err
		}
		return doc.NewBinary(0x04, id[:]), nil
	case GuidV7:
		id, err := uuid.NewV7()
		if err != nil {
			return doc.Value{}, err
		}
		return doc.NewBinary(0x04, id[:]), nil
	default:
		return doc.Value{}, nil
	}
}
