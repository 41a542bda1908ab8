// Package maintenance implements the batch agents that run over accumulated
// analysis output: the context filter, the tag normalizer, the briefing
// generator and the blacklist/purge actions.
//
// Every batch commits its own writes and recomputes the remaining work from
// persisted state, so any call may be interrupted and simply re-issued.
package maintenance
