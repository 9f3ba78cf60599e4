// Package catalog turns register table rows into typed register definitions.
//
// Each row names the END address of a value on the meter, its data type and
// its label. The catalog derives the word count from the data type, the
// start address from the end address, and canonicalises watt readings to
// kilowatts. Rows that cannot be understood are returned as Rejected
// diagnostics instead of failing the whole load.
package catalog
