package order

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/xenking/bundle-pricing/internal/domain/money"
	"github.com/xenking/bundle-pricing/internal/domain/orderline"
)

// fingerprint digests a validated cart: its currency and every item tree.
// Amounts that differ only in trailing zeros digest the same.
func fingerprint(cur money.Currency, items []orderline.PricedNode) string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%s %d\n", cur.Code, len(items))
	for _, it := range items {
		writeNode(h, it)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeNode(w io.Writer, n orderline.PricedNode) {
	// The SKU is length-prefixed so it cannot run into the next field.
	_, _ = fmt.Fprintf(w, "%d:%s %d %s %t %d\n",
		len(n.SKU), n.SKU, n.Quantity, n.ExtendedAmount.String(), n.Bundle, len(n.Children))
	for _, c := range n.Children {
		writeNode(w, c)
	}
}
