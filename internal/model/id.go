package model

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// ID prefixes per experiment kind. Container names reuse the experiment ID.
const (
	TrafficJobPrefix   = "k6-job"
	NetworkDelayPrefix = "pumba-delay"
)

// NewID generates a kind-prefixed identifier with a lowercase ULID suffix,
// e.g. "k6-job-01j9z3x6q4...". The result is a valid container name.
func NewID(prefix string) string {
	return prefix + "-" + strings.ToLower(ulid.Make().String())
}

// IDPrefix returns the ID prefix used for experiments of the given kind.
func IDPrefix(k Kind) string {
	if k == KindNetworkDelay {
		return NetworkDelayPrefix
	}
	return TrafficJobPrefix
}
