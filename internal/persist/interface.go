package persist

import "codeberg.org/mutker/telemetryd/internal/store"

// Repository is the persistence boundary for store snapshots. Load and Save
// operate on the same snapshot shape, enabling a symmetric reload at
// startup.
type Repository interface {
	Load() (store.Snapshot, error)
	Save(snap store.Snapshot) error
	Close() error
}
