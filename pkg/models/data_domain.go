package models

// DataDomain scopes computed-edge evaluation to one slice of a tenant's data.
type DataDomain struct {
	OrgRefName  string `json:"org_ref_name" yaml:"org_ref_name"`
	AccountNum  string `json:"account_num" yaml:"account_num"`
	TenantID    string `json:"tenant_id" yaml:"tenant_id"`
	DataSegment int    `json:"data_segment" yaml:"data_segment"`
}

// IsZero reports whether no scoping fields are set.
func (d DataDomain) IsZero() bool {
	return d == DataDomain{}
}
