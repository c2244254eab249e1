// Package entity implements descriptor-driven entity/method dispatch:
// plain Go descriptor tables supplied by the caller (no external schema
// generation), resolved by id range via sort.Search, with
// method_index = id - range.First.
package entity

import (
	"errors"
	"fmt"
	"sort"

	"wtproto/pkg/bundle"
)

// ErrUnknownMethod is returned when an id falls inside a registered range
// but has no descriptor at that offset.
var ErrUnknownMethod = errors.New("entity: unknown method id inside registered range")

// ErrNoRange is returned when an id falls outside every registered range.
var ErrNoRange = errors.New("entity: id outside any registered range")

// Descriptor describes one entity method's wire framing.
type Descriptor struct {
	Name       string
	Length     bundle.LengthKind
	FixedBytes int
}

// Handler processes one dispatched method call: methodIndex = id - First,
// body is the element's already length-framed payload.
type Handler func(methodIndex int, body []byte) error

type boundRange struct {
	first, last uint8
	descs       []Descriptor
	handler     Handler
}

// Dispatcher resolves element ids to registered method ranges and invokes
// the bound handler.
type Dispatcher struct {
	ranges []boundRange
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register binds [first,last] to descs (descs[i] corresponds to id =
// first+i) and handler. descs may be shorter than the range's span: ids
// beyond len(descs) are registered but undescribed, resolving to
// ErrUnknownMethod rather than ErrNoRange. Ranges must not overlap with
// any previously registered range.
func (d *Dispatcher) Register(first, last uint8, descs []Descriptor, handler Handler) error {
	if span := int(last) - int(first) + 1; len(descs) > span {
		return fmt.Errorf("entity: range [%d,%d] spans %d ids but got %d descriptors", first, last, span, len(descs))
	}
	for _, r := range d.ranges {
		if first <= r.last && r.first <= last {
			return fmt.Errorf("entity: range [%d,%d] overlaps registered range [%d,%d]", first, last, r.first, r.last)
		}
	}
	d.ranges = append(d.ranges, boundRange{first: first, last: last, descs: descs, handler: handler})
	sort.Slice(d.ranges, func(i, j int) bool { return d.ranges[i].last < d.ranges[j].last })
	return nil
}

// Descriptor resolves id to its descriptor and method index without
// invoking any handler.
func (d *Dispatcher) Descriptor(id uint8) (Descriptor, int, error) {
	r, idx, err := d.find(id)
	if err != nil {
		return Descriptor{}, 0, err
	}
	return r.descs[idx], idx, nil
}

// Dispatch resolves id to its range and invokes the bound handler with the
// method index and body.
func (d *Dispatcher) Dispatch(id uint8, body []byte) error {
	r, idx, err := d.find(id)
	if err != nil {
		return err
	}
	return r.handler(idx, body)
}

func (d *Dispatcher) find(id uint8) (boundRange, int, error) {
	i := sort.Search(len(d.ranges), func(i int) bool { return d.ranges[i].last >= id })
	if i >= len(d.ranges) || id < d.ranges[i].first {
		return boundRange{}, 0, fmt.Errorf("%w: %d", ErrNoRange, id)
	}
	r := d.ranges[i]
	idx := int(id - r.first)
	if idx >= len(r.descs) {
		return boundRange{}, 0, fmt.Errorf("%w: %d", ErrUnknownMethod, id)
	}
	return r, idx, nil
}
