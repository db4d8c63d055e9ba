package ir

import "time"

// RecordStatus is the storage-level status of an organization or entity.
// It only distinguishes live records from deactivated ones; business
// lifecycle state is modeled as a has_status relationship instead.
type RecordStatus string

const (
	StatusActive   RecordStatus = "active"
	StatusInactive RecordStatus = "inactive"
)

// Organization is the tenant boundary. Every other record carries its ID.
type Organization struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Code         string       `json:"code"`
	Industry     string       `json:"industry"`
	TaxonomyCode string       `json:"taxonomy_code"`
	Status       RecordStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Entity is a generic business record. EntityType is a free-form uppercase
// token (CUSTOMER, ACCOUNT, STATUS, ...) that carries no schema.
type Entity struct {
	ID             string       `json:"id"`
	OrganizationID string       `json:"organization_id"`
	EntityType     string       `json:"entity_type"`
	Name           string       `json:"name"`
	Code           string       `json:"code,omitempty"`
	TaxonomyCode   string       `json:"taxonomy_code"`
	Status         RecordStatus `json:"status"`

	// Metadata holds the restricted system buckets keyed by category
	// (system_ai, system_observability, system_audit). Business facts never
	// land here; they are DynamicFields.
	Metadata Object `json:"metadata,omitempty"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedBy string    `json:"updated_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether the entity has not been deactivated.
func (e Entity) IsActive() bool {
	return e.Status == StatusActive
}
