// Package runtime defines the narrow container-runtime capability the
// experiment engine consumes, along with the container types exchanged with
// runtime implementations (Docker, and an in-memory fake for tests).
package runtime
