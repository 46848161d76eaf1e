package event

// Class is the semantic category of a response status.
type Class int

const (
	// ClassSuccess covers statuses below 300.
	ClassSuccess Class = iota
	// ClassRedirect covers 3xx statuses. Redirect responses are never
	// rendered or logged verbosely, to keep automatic redirect chains
	// out of the debug output.
	ClassRedirect
	// ClassError covers client and server errors (>= 400).
	ClassError
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassRedirect:
		return "redirect"
	case ClassError:
		return "error"
	}
	return "unknown"
}

// Classify maps an HTTP status code to its class.
func Classify(status int) Class {
	switch {
	case status < 300:
		return ClassSuccess
	case status < 400:
		return ClassRedirect
	default:
		return ClassError
	}
}

// resourceTypeDocument is the engine tag for a top-level navigation.
const resourceTypeDocument = "document"

// IsPrimaryDocument reports whether a resource type tag names the
// page's primary document rather than a subordinate asset (script,
// stylesheet, image fetched as a page resource).
func IsPrimaryDocument(resourceType string) bool {
	return resourceType == resourceTypeDocument
}
