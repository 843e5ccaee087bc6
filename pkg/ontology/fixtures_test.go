package ontology

func placementTBox() TBox {
	return NewTBox(
		[]ClassDef{
			{ID: "Party"},
			{ID: "Organization", Parents: []string{"Party"}},
			{ID: "Associate", Parents: []string{"Party"}},
			{ID: "Customer", Parents: []string{"Associate"}},
			{ID: "Order"},
		},
		[]PropertyDef{
			{ID: "placedBy", Domain: "Order", Range: "Customer"},
			{ID: "memberOf", Domain: "Customer", Range: "Organization"},
			{ID: "placedInOrg", Domain: "Order", Range: "Organization"},
			{ID: "ancestorOf", Domain: "Organization", Range: "Organization", Transitive: true},
			{ID: "descendantOf", Domain: "Organization", Range: "Organization", InverseOf: "ancestorOf"},
			{ID: "related", SuperProperties: nil},
			{ID: "knows", Symmetric: true, SuperProperties: []string{"related"}},
			{ID: "worksWith", SuperProperties: []string{"knows"}},
		},
		[]PropertyChainDef{
			{Chain: []string{"placedBy", "memberOf"}, Implies: "placedInOrg"},
			{Chain: []string{"placedInOrg", "ancestorOf"}, Implies: "placedInOrg"},
		},
	)
}
