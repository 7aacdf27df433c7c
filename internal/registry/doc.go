// Package registry implements the room registry and session coordinator for
// the SalaChat server.
//
// The registry owns every piece of mutable room state: the PIN-keyed room
// table, the device-to-room index, and the connection-to-device index. All
// mutations go through its methods under a single mutex, so read-modify-write
// sequences such as capacity checks followed by member appends are atomic
// with respect to each other. Outbound traffic leaves through the Port
// interface, keeping the coordinator independent of any particular transport.
package registry
