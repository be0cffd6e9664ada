package importer

import "fmt"

// ProductNotFoundError ends a run when the provider does not know the product.
type ProductNotFoundError struct {
	Product string
	Err     error
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %q not found: %v", e.Product, e.Err)
}

func (e *ProductNotFoundError) Unwrap() error { return e.Err }
