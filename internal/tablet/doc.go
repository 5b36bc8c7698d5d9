// Package tablet provides a master's local storage for the tablets it
// owns.
//
// It is the data-plane counterpart to internal/tabletmap's control-plane
// assignment: the coordinator decides which server owns which key
// range, and each server backs its share of that decision with a
// Tablet. A Tablet's StartKey/EndKey line up with the
// tabletmap.Tablet the coordinator handed out for it, so a master can
// reject or accept a request for a key purely by hashing it and
// checking Owns, without consulting the coordinator on every request.
//
// Storage itself is delegated to internal/storage.Backend; a Tablet adds
// range ownership and per-tablet operation counters on top.
package tablet
