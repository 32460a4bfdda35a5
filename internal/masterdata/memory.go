package masterdata

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// MemoryLookup is an in-process Lookup used by tests and local tooling.
type MemoryLookup struct {
	mu          sync.RWMutex
	items       map[int64]Item
	uoms        map[int64]UOM
	suppliers   map[int64]Supplier
	warehouses  map[int64]Warehouse
	locations   map[int64]Location
	departments map[int64]Department
}

// NewMemoryLookup returns an empty MemoryLookup.
func NewMemoryLookup() *MemoryLookup {
	return &MemoryLookup{
		items:       map[int64]Item{},
		uoms:        map[int64]UOM{},
		suppliers:   map[int64]Supplier{},
		warehouses:  map[int64]Warehouse{},
		locations:   map[int64]Location{},
		departments: map[int64]Department{},
	}
}

func (m *MemoryLookup) PutItem(v Item) *MemoryLookup {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[v.ID] = v
	return m
}

func (m *MemoryLookup) PutUOM(v UOM) *MemoryLookup {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uoms[v.ID] = v
	return m
}

func (m *MemoryLookup) PutSupplier(v Supplier) *MemoryLookup {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suppliers[v.ID] = v
	return m
}

func (m *MemoryLookup) PutWarehouse(v Warehouse) *MemoryLookup {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warehouses[v.ID] = v
	return m
}

func (m *MemoryLookup) PutLocation(v Location) *MemoryLookup {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[v.ID] = v
	return m
}

func (m *MemoryLookup) PutDepartment(v Department) *MemoryLookup {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.departments[v.ID] = v
	return m
}

func (m *MemoryLookup) GetItem(_ context.Context, id int64) (Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[id]
	if !ok {
		return Item{}, shared.NotFound("item", id)
	}
	return v, nil
}

func (m *MemoryLookup) GetUOM(_ context.Context, id int64) (UOM, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.uoms[id]
	if !ok {
		return UOM{}, shared.NotFound("uom", id)
	}
	return v, nil
}

func (m *MemoryLookup) GetSupplier(_ context.Context, id int64) (Supplier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.suppliers[id]
	if !ok {
		return Supplier{}, shared.NotFound("supplier", id)
	}
	return v, nil
}

func (m *MemoryLookup) GetWarehouse(_ context.Context, id int64) (Warehouse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.warehouses[id]
	if !ok {
		return Warehouse{}, shared.NotFound("warehouse", id)
	}
	return v, nil
}

func (m *MemoryLookup) GetLocation(_ context.Context, id int64) (Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.locations[id]
	if !ok {
		return Location{}, shared.NotFound("location", id)
	}
	return v, nil
}

func (m *MemoryLookup) GetDepartment(_ context.Context, id int64) (Department, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.departments[id]
	if !ok {
		return Department{}, shared.NotFound("department", id)
	}
	return v, nil
}

func (m *MemoryLookup) DefaultLocation(_ context.Context, warehouseID int64, typ LocationType) (Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var candidates []Location
	for _, l := range m.locations {
		if l.WarehouseID == warehouseID && l.Type == typ && l.Active {
			candidates = append(candidates, l)
		}
	}
	if len(candidates) == 0 {
		return Location{}, shared.Validation("warehouse_id", fmt.Sprintf("warehouse %d has no active %s location", warehouseID, typ))
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].IsDefault != candidates[j].IsDefault {
			return candidates[i].IsDefault
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], nil
}
