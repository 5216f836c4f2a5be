package store

import (
	"errors"
	"fmt"

	"github.com/example/marketplace/pkg/escrow"
	"github.com/example/marketplace/pkg/models"
)

// Verify checks the invariants every order must satisfy at all times.
func Verify(o *models.Order) error {
	if o.Total != o.Subtotal+o.DeliveryFee+o.ServiceFee {
		return fmt.Errorf("total %d != subtotal %d + delivery %d + service %d", o.Total, o.Subtotal, o.DeliveryFee, o.ServiceFee)
	}
	if err := escrow.Check(o); err != nil {
		return err
	}
	if len(o.Timeline) == 0 {
		return errors.New("timeline is empty")
	}
	for i := 1; i < len(o.Timeline); i++ {
		if o.Timeline[i].Timestamp.Before(o.Timeline[i-1].Timestamp) {
			return fmt.Errorf("timeline entry %d goes back in time", i)
		}
	}
	if last := o.LastStatus(); last != o.Status {
		return fmt.Errorf("timeline ends in %q but status is %q", last, o.Status)
	}
	return nil
}

// Verify checks every committed order and returns one error per violation.
func (s *Store) Verify() []error {
	var errs []error
	for _, o := range s.Snapshot() {
		if err := Verify(o); err != nil {
			errs = append(errs, fmt.Errorf("order %s: %w", o.ID, err))
		}
	}
	return errs
}
