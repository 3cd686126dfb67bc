package booking

import (
	"context"
	"fmt"
)

// PutResource creates or replaces a resource. Admin only.
func (service *Service) PutResource(ctx context.Context, actor Actor, resource Resource) error {
	var operationError error
	if !actor.IsAdmin() {
		operationError = fmt.Errorf("%w: admin role required", ErrForbidden)
	} else if resource.ID().IsZero() {
		operationError = fmt.Errorf("%w: empty value", ErrInvalidResourceID)
	} else {
		operationError = service.store.SaveResource(ctx, resource)
	}
	service.logOperation(ctx, OperationLog{
		Operation:  OperationPutResource,
		HolderID:   actor.HolderID,
		ResourceID: resource.ID(),
		Error:      operationError,
	})
	return operationError
}

// GetResource returns one resource.
func (service *Service) GetResource(ctx context.Context, resourceID ResourceID) (Resource, error) {
	return service.store.GetResource(ctx, resourceID)
}

// ListResources returns every resource in enumeration order.
func (service *Service) ListResources(ctx context.Context) ([]Resource, error) {
	return service.store.ListResources(ctx)
}
