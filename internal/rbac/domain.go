package rbac

// Role represents a high-level permission grouping.
type Role struct {
	ID          int64
	Name        string
	Description string
}

// Permission represents an atomic capability.
type Permission struct {
	ID          int64
	Name        string
	Description string
}
