package shared

import "fmt"

// DocumentKind tags the owning document type of histories, approvals and movements.
type DocumentKind string

const (
	DocPurchaseRequest DocumentKind = "PURCHASE_REQUEST"
	DocPurchaseOrder   DocumentKind = "PURCHASE_ORDER"
	DocGoodsReceipt    DocumentKind = "GOODS_RECEIPT"
	DocPutAway         DocumentKind = "PUT_AWAY"
	DocPickingOrder    DocumentKind = "PICKING_ORDER"
	DocSupplierInvoice DocumentKind = "SUPPLIER_INVOICE"
)

// DocumentRef identifies any document by kind and id.
type DocumentRef struct {
	Kind DocumentKind `json:"kind"`
	ID   int64        `json:"id"`
}

func (r DocumentRef) String() string {
	return fmt.Sprintf("%s#%d", r.Kind, r.ID)
}
