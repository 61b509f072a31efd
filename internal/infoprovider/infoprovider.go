package infoprovider

// InfoProvider returns the roles held by a subject independent of any order.
type InfoProvider interface {
	GetRoles(id string) ([]string, error)
}
