package scanner

import (
	"github.com/kozaktomas/face-scan/internal/facematch"
)

// SlotKind is the cache state of one candidate item.
type SlotKind int

const (
	// SlotRaw holds image bytes that were never processed.
	SlotRaw SlotKind = iota
	// SlotFeature holds the feature vector derived from the image.
	SlotFeature
	// SlotNoFace records that detection found no usable face.
	SlotNoFace
)

func (k SlotKind) String() string {
	switch k {
	case SlotRaw:
		return "raw"
	case SlotFeature:
		return "feature"
	case SlotNoFace:
		return "noFace"
	default:
		return "unknown"
	}
}

// Slot is one entry of the candidate item store.
type Slot struct {
	Kind    SlotKind
	Raw     []byte
	Feature facematch.FeatureVector
}

func RawSlot(data []byte) Slot {
	return Slot{Kind: SlotRaw, Raw: data}
}

func FeatureSlot(fv facematch.FeatureVector) Slot {
	return Slot{Kind: SlotFeature, Feature: fv}
}

func NoFaceSlot() Slot {
	return Slot{Kind: SlotNoFace}
}

// Resolved reports whether the slot no longer needs detection.
func (s Slot) Resolved() bool {
	return s.Kind == SlotFeature || s.Kind == SlotNoFace
}

// ItemStore is the index-addressed candidate store shared across scans of one set.
// A scanner only writes indices inside its own range, so implementations need no
// locking for disjoint partitions.
type ItemStore interface {
	Len() int
	Slot(i int) Slot
	SetSlot(i int, s Slot)
}

// Items is a slice-backed ItemStore.
type Items []Slot

func (it Items) Len() int              { return len(it) }
func (it Items) Slot(i int) Slot       { return it[i] }
func (it Items) SetSlot(i int, s Slot) { it[i] = s }
