// Package relay pumps bytes between two connected straws.
//
// A Session runs exactly two pumps, inbound->outbound and outbound->inbound.
// Each endpoint is written by one pump only. When a pump's source ends the
// session either closes the pump's destination (default) or leaves it open
// (resilient), in which case only the remaining direction keeps flowing.
package relay
