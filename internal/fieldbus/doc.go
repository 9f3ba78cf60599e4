// Package fieldbus reads energy meters over Modbus/TCP.
//
// A Dialer opens a Session to a gateway; ModbusDialer does this with
// github.com/goburrow/modbus and SimulatedDialer fakes plausible values for
// utilities in the simulated group. Reader.Poll drives one session per
// utility and turns raw register words into scaled values.
//
// Word order: meters send multi-word values lowest word first. A float
// arriving as [0x0000, 0x4348] decodes to 200.0.
package fieldbus
