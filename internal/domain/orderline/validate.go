package orderline

import (
	"fmt"
	"strconv"

	"github.com/go-faster/errors"

	"github.com/xenking/bundle-pricing/internal/domain/money"
)

// Sentinel errors for malformed priced trees.
var (
	ErrEmptySKU        = errors.New("sku required")
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	ErrNegativeAmount  = errors.New("amount must not be negative")
	ErrEmptyBundle     = errors.New("bundle has no constituents")
	ErrLeafChildren    = errors.New("non-bundle item has constituents")
	ErrDepthExceeded   = errors.New("bundle nesting too deep")
)

// InvalidNodeError reports the node that made a priced tree unusable.
// Path is the slash-separated chain of child indexes from the root; it is
// empty for the root of a single Materialize call.
type InvalidNodeError struct {
	Path string
	SKU  string
	Err  error
}

func (e *InvalidNodeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("item %q: %v", e.SKU, e.Err)
	}
	return fmt.Sprintf("item %q at %s: %v", e.SKU, e.Path, e.Err)
}

func (e *InvalidNodeError) Unwrap() error {
	return e.Err
}

// Validate checks the structure of a priced tree without pricing it.
func Validate(node PricedNode, maxDepth int) error {
	return validate(node, "", 1, maxDepth)
}

func validate(node PricedNode, path string, depth, maxDepth int) error {
	fail := func(err error) error {
		return &InvalidNodeError{Path: path, SKU: node.SKU, Err: err}
	}

	rangeErr := money.CheckRange(node.ExtendedAmount)
	switch {
	case depth > maxDepth:
		return fail(errors.Wrapf(ErrDepthExceeded, "limit %d", maxDepth))
	case node.SKU == "":
		return fail(ErrEmptySKU)
	case node.Quantity <= 0:
		return fail(ErrInvalidQuantity)
	case node.ExtendedAmount.IsNegative():
		return fail(ErrNegativeAmount)
	case rangeErr != nil:
		return fail(rangeErr)
	case node.Bundle && len(node.Children) == 0:
		return fail(ErrEmptyBundle)
	case !node.Bundle && len(node.Children) > 0:
		return fail(ErrLeafChildren)
	}

	for i, child := range node.Children {
		if err := validate(child, childPath(path, i), depth+1, maxDepth); err != nil {
			return err
		}
	}
	return nil
}

func childPath(path string, i int) string {
	if path == "" {
		return strconv.Itoa(i)
	}
	return path + "/" + strconv.Itoa(i)
}
