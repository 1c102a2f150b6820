package memutils

// Validatable is implemented by structures that can check their own
// invariants. DebugValidate runs the check after mutations in debug builds.
type Validatable interface {
	Validate() error
}
