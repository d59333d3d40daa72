package service

import (
	"context"

	"github.com/Qmop1967/Clients-Console-sub001/internal/erp"
	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
)

// Catalog is the part of the ERP the reconcilers read items from.
type Catalog interface {
	ListItems(ctx context.Context, source model.Source, page, perPage int) (*erp.ItemPage, error)
	GetItem(ctx context.Context, source model.Source, itemID string) (*erp.Item, error)
}

// ImageSource downloads product images from the ERP.
type ImageSource interface {
	GetItemImage(ctx context.Context, itemID string) (*erp.Image, error)
}

var (
	_ Catalog     = (*erp.Client)(nil)
	_ ImageSource = (*erp.Client)(nil)
)
