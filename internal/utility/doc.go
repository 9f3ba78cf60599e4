// Package utility models the metered loads polled by the service.
//
// A Registry turns utility table rows into Utility values with a resolved
// gateway address. DeriveFacets and ApplyFilter back the dashboard's
// group and tag filters.
package utility
