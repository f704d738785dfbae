package domain

// RoutingTable maps sensor ids to destinations. Default applies to sensors
// missing from Targets when it is non-empty.
type RoutingTable struct {
	Targets map[string]DestinationID
	Default DestinationID
}

// WithDefault returns a copy sharing Targets but using a different default.
func (t RoutingTable) WithDefault(def DestinationID) RoutingTable {
	return RoutingTable{Targets: t.Targets, Default: def}
}
