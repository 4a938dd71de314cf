package models

// Identity is the caller identity extracted from gateway-forwarded headers.
// The API gateway authenticates upstream; this service trusts the headers
// and scopes every read and write to the (tenant, user) pair.
type Identity struct {
	TenantID string
	UserID   string
	Tier     Tier
}

// Valid reports whether both scope fields are present.
func (id Identity) Valid() bool {
	return id.TenantID != "" && id.UserID != ""
}
