// Package masterclient is the coordinator-side half of setTablets: the
// call that tells a master exactly which tablets it now owns. It is
// invoked whenever CreateTable or DropTable changes a master's
// assignment, so a master never has to guess its own ownership from an
// incoming data request. Recovery does not go through it: tablets a
// master takes over arrive through the recovery Engine instead.
package masterclient
