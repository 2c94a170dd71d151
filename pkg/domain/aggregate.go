package domain

// AggregateID returns the order id the saga event belongs to. It keys bus
// partitioning and the dedup key of every apply-event operation.
func (e OrderCreatedEvent) AggregateID() string               { return e.OrderID.String() }
func (e InventoryReservedEvent) AggregateID() string          { return e.OrderID.String() }
func (e InventoryReservationFailedEvent) AggregateID() string { return e.OrderID.String() }
func (e PaymentProcessedEvent) AggregateID() string           { return e.OrderID.String() }
func (e PaymentFailedEvent) AggregateID() string              { return e.OrderID.String() }
